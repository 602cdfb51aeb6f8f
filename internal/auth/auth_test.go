package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/lockout"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

const (
	testPassword = "Val1d$Pass"
	testDevice   = "203.0.113.9"
)

type fixture struct {
	svc      *Service
	users    *user.MockRepository
	sessions *session.Manager
	tokens   *onetime.Manager
	lockouts *lockout.Policy
}

func newFixture(t *testing.T) *fixture {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)

	users := user.NewMockRepository()
	codec := token.NewCodec()

	sessionCfg := &config.SessionConfig{
		AccessTokenTTL:     time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		RefreshedAccessTTL: time.Hour,
		RefreshedTTL:       30 * 24 * time.Hour,
		IdleTimeout:        30 * time.Minute,
		AbsoluteTimeout:    8 * time.Hour,
	}
	sessions := session.NewManager(sessionCfg, logger, session.NewMockRepository(), users, codec)

	lockoutCfg := &config.LockoutConfig{
		ShortThreshold:  5,
		ShortDuration:   30 * time.Minute,
		MediumThreshold: 10,
		MediumDuration:  time.Hour,
		LongThreshold:   15,
		LongDuration:    24 * time.Hour,
	}
	lockouts := lockout.NewPolicy(lockoutCfg, logger, users, sessions)

	tokenCfg := &config.OneTimeTokenConfig{
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		IssueWindow:          5 * time.Minute,
		IssueLimit:           3,
		Retention:            30 * 24 * time.Hour,
	}
	tokens := onetime.NewManager(tokenCfg, logger, onetime.NewMockRepository(), codec)

	passwordCfg := &config.PasswordConfig{
		BcryptCost:   bcrypt.MinCost,
		HistoryDepth: 5,
		MinLength:    8,
	}

	return &fixture{
		svc:      NewService(passwordCfg, logger, users, sessions, lockouts, tokens),
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		lockouts: lockouts,
	}
}

func (f *fixture) newUser(t *testing.T, email string, status user.Status) *user.User {
	u := &user.User{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Status:    status,
	}
	assert.NoError(t, f.users.CreateUser(context.Background(), u))

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	assert.NoError(t, err)
	assert.NoError(t, f.users.InsertCredential(context.Background(), &user.Credential{
		UserID:       u.ID,
		PasswordHash: string(hash),
	}))
	return u
}

func (f *fixture) login(t *testing.T, email string) *LoginResult {
	res, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    email,
		Password: testPassword,
	}, session.DeviceInfo{IPAddress: testDevice})
	assert.NoError(t, err)
	return res
}
