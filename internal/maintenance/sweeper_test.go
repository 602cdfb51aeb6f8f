package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/apikey"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

type fixture struct {
	sweeper     *Sweeper
	sessions    *session.Manager
	sessionRepo *session.MockRepository
	tokenRepo   *onetime.MockRepository
	keyRepo     *apikey.MockRepository
	users       *user.MockRepository
}

func newFixture(t *testing.T) *fixture {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)

	codec := token.NewCodec()
	users := user.NewMockRepository()

	sessionRepo := session.NewMockRepository()
	sessions := session.NewManager(&config.SessionConfig{
		AccessTokenTTL:     time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		RefreshedAccessTTL: time.Hour,
		RefreshedTTL:       30 * 24 * time.Hour,
		IdleTimeout:        30 * time.Minute,
		AbsoluteTimeout:    8 * time.Hour,
	}, logger, sessionRepo, users, codec)

	tokenRepo := onetime.NewMockRepository()
	tokens := onetime.NewManager(&config.OneTimeTokenConfig{
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		IssueWindow:          5 * time.Minute,
		IssueLimit:           3,
		Retention:            30 * 24 * time.Hour,
	}, logger, tokenRepo, codec)

	keyRepo := apikey.NewMockRepository()
	keys := apikey.NewService(&config.APIKeyConfig{
		AllowedScopes:  []string{"read"},
		MaxKeysPerUser: 10,
	}, logger, keyRepo, users, codec)

	cfg := &config.MaintenanceConfig{
		SweepInterval:    time.Minute,
		SessionRetention: 30 * 24 * time.Hour,
		BatchSize:        100,
	}

	return &fixture{
		sweeper:     NewSweeper(cfg, logger, sessions, tokens, keys),
		sessions:    sessions,
		sessionRepo: sessionRepo,
		tokenRepo:   tokenRepo,
		keyRepo:     keyRepo,
		users:       users,
	}
}

func TestSweepRevokesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := &session.Session{
		UserID:    "user-1",
		TokenHash: "hash-expired",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	assert.NoError(t, f.sessionRepo.Create(ctx, expired))

	live := &session.Session{
		UserID:    "user-1",
		TokenHash: "hash-live",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	assert.NoError(t, f.sessionRepo.Create(ctx, live))

	f.sweeper.Sweep(ctx)

	s, err := f.sessionRepo.FindByID(ctx, expired.ID)
	assert.NoError(t, err)
	assert.NotNil(t, s.RevokedAt)
	assert.Equal(t, session.ReasonExpired, *s.RevokeReason)

	s, err = f.sessionRepo.FindByID(ctx, live.ID)
	assert.NoError(t, err)
	assert.Nil(t, s.RevokedAt)
}

func TestSweepPrunesSessionsPastRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := time.Now().Add(-31 * 24 * time.Hour)
	ancient := &session.Session{
		UserID:    "user-1",
		TokenHash: "hash-ancient",
		ExpiresAt: old,
		RevokedAt: &old,
	}
	assert.NoError(t, f.sessionRepo.Create(ctx, ancient))

	f.sweeper.Sweep(ctx)

	_, err := f.sessionRepo.FindByID(ctx, ancient.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSweepPrunesExpiredTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.tokenRepo.CreateReset(ctx, &onetime.ResetToken{
		UserID:    "user-1",
		TokenHash: "hash-old",
		ExpiresAt: time.Now().Add(-31 * 24 * time.Hour),
	}))

	f.sweeper.Sweep(ctx)

	_, err := f.tokenRepo.FindResetByHash(ctx, "hash-old")
	assert.ErrorIs(t, err, onetime.ErrTokenNotFound)
}

func TestSweepDeactivatesExpiredKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	k := &apikey.Key{
		UserID:    "user-1",
		Name:      "stale",
		KeyHash:   "hash-stale",
		KeyPrefix: "stale123",
		IsActive:  true,
		ExpiresAt: &past,
	}
	assert.NoError(t, f.keyRepo.Create(ctx, k))

	f.sweeper.Sweep(ctx)

	stored, err := f.keyRepo.FindByID(ctx, k.ID)
	assert.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestSweepResetsUsageCountersOncePerHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	k := &apikey.Key{
		UserID:    "user-1",
		Name:      "busy",
		KeyHash:   "hash-busy",
		KeyPrefix: "busy1234",
		IsActive:  true,
	}
	assert.NoError(t, f.keyRepo.Create(ctx, k))
	assert.NoError(t, f.keyRepo.RecordUsage(ctx, k.ID, "", time.Now()))

	// Same window: the counter is left alone.
	f.sweeper.Sweep(ctx)
	stored, err := f.keyRepo.FindByID(ctx, k.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)

	// A new window has opened since the last reset.
	f.sweeper.lastCounterWindow = f.sweeper.lastCounterWindow.Add(-time.Hour)
	f.sweeper.Sweep(ctx)
	stored, err = f.keyRepo.FindByID(ctx, k.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	f.sweeper.Start()
	f.sweeper.Stop()
}
