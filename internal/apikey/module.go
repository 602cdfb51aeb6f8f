package apikey

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// NewModule returns the api key module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository, users user.Repository, codec *token.Codec) *Service {
					return NewService(&config.APIKeys, log, repo, users, codec)
				},
			),
		),
	)
}
