package app

import (
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/config"
)

// NewLogger builds the zap logger for the given environment: structured
// JSON in production, human-readable everywhere else.
func NewLogger(env string) (*zap.Logger, error) {
	if env == config.EnvProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
