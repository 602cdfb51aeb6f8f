package maintenance

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/apikey"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
)

// NewModule returns the maintenance sweeper module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, sessions *session.Manager, tokens *onetime.Manager, keys *apikey.Service) *Sweeper {
					return NewSweeper(&config.Maintenance, log, sessions, tokens, keys)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, sweeper *Sweeper, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			log.Info("maintenance sweeper started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			log.Info("maintenance sweeper stopped")
			return nil
		},
	})
}
