package auth

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/lockout"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// NewModule returns the auth service module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, users user.Repository, sessions *session.Manager, lockouts *lockout.Policy, tokens *onetime.Manager) *Service {
					return NewService(&config.Password, log, users, sessions, lockouts, tokens)
				},
			),
		),
	)
}
