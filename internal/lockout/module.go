package lockout

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// NewModule returns the lockout policy module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, users user.Repository, sessions *session.Manager) *Policy {
					return NewPolicy(&config.Lockout, log, users, sessions)
				},
			),
		),
	)
}
