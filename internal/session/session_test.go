package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return logger
}

func newTestConfig() *config.SessionConfig {
	return &config.SessionConfig{
		AccessTokenTTL:     time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		RefreshedAccessTTL: time.Hour,
		RefreshedTTL:       30 * 24 * time.Hour,
		IdleTimeout:        30 * time.Minute,
		AbsoluteTimeout:    8 * time.Hour,
	}
}

func newTestManager(t *testing.T) (*Manager, *MockRepository, *user.MockRepository) {
	repo := NewMockRepository()
	users := user.NewMockRepository()
	m := NewManager(newTestConfig(), newTestLogger(t), repo, users, token.NewCodec())
	return m, repo, users
}

func newTestUser(t *testing.T, users *user.MockRepository) *user.User {
	u := &user.User{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Status:    user.StatusActive,
	}
	assert.NoError(t, users.CreateUser(context.Background(), u))
	return u
}
