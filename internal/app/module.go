package app

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/apikey"
	"github.com/beaconhq/beacon-auth/internal/auth"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/database"
	"github.com/beaconhq/beacon-auth/internal/lockout"
	"github.com/beaconhq/beacon-auth/internal/maintenance"
	"github.com/beaconhq/beacon-auth/internal/migration"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/twofactor"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(config.LoadConfig),

		// Token codec
		fx.Provide(token.NewCodec),

		// Storage
		database.Module(),
		migration.Module(),

		// Domain modules
		user.NewModule(),
		session.NewModule(),
		lockout.NewModule(),
		onetime.NewModule(),
		twofactor.NewModule(),
		apikey.NewModule(),
		auth.NewModule(),

		// Background maintenance
		maintenance.NewModule(),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return NewLogger(env)
}
