package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/user"
)

type stubRevoker struct {
	revoked []string
	reasons []string
}

func (s *stubRevoker) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, revokedBy, reason string) (int64, error) {
	s.revoked = append(s.revoked, userID)
	s.reasons = append(s.reasons, reason)
	return 1, nil
}

func newTestPolicy(t *testing.T) (*Policy, *user.MockRepository, *stubRevoker) {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)

	users := user.NewMockRepository()
	revoker := &stubRevoker{}
	cfg := &config.LockoutConfig{
		ShortThreshold:  5,
		ShortDuration:   30 * time.Minute,
		MediumThreshold: 10,
		MediumDuration:  time.Hour,
		LongThreshold:   15,
		LongDuration:    24 * time.Hour,
	}
	return NewPolicy(cfg, logger, users, revoker), users, revoker
}

func newLockedOutUser(t *testing.T, users *user.MockRepository) *user.User {
	u := &user.User{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Status:    user.StatusActive,
	}
	assert.NoError(t, users.CreateUser(context.Background(), u))
	return u
}

func TestTrackFailedLoginBelowThreshold(t *testing.T) {
	p, users, _ := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}

	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestTrackFailedLoginLocksAtThreshold(t *testing.T) {
	p, users, _ := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}

	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.True(t, status.Locked)
	assert.NotNil(t, status.Until)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *status.Until, 5*time.Second)
}

func TestEscalatingLockTiers(t *testing.T) {
	p, users, _ := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}
	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.Until, 5*time.Second)

	for i := 0; i < 5; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}
	status, err = p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *status.Until, 5*time.Second)
}

func TestCounterSurvivesLockExpiry(t *testing.T) {
	p, users, _ := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}

	// Simulate the lock window passing without a successful login.
	past := time.Now().Add(-time.Minute)
	assert.NoError(t, users.SetLock(ctx, u.ID, past, "Too many failed login attempts"))

	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.False(t, status.Locked)

	// The very next failure relocks: the cumulative count is now 6.
	assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	status, err = p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestTrackFailedLoginUnknownEmailIsSilent(t *testing.T) {
	p, _, _ := newTestPolicy(t)

	assert.NoError(t, p.TrackFailedLogin(context.Background(), "nobody@example.com", "", "unknown email"))
}

func TestIsAccountLockedUnknownEmailReportsUnlocked(t *testing.T) {
	p, _, _ := newTestPolicy(t)

	status, err := p.IsAccountLocked(context.Background(), "nobody@example.com")
	assert.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockAccountRevokesSessions(t *testing.T) {
	p, users, revoker := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	assert.NoError(t, p.LockAccount(ctx, u.ID, "policy violation", until, "admin-1"))

	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, []string{u.ID}, revoker.revoked)
	assert.Equal(t, []string{"Account locked"}, revoker.reasons)
}

func TestUnlockAccountClearsLockAndCounter(t *testing.T) {
	p, users, _ := newTestPolicy(t)
	u := newLockedOutUser(t, users)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, p.TrackFailedLogin(ctx, "ada@example.com", "", "wrong password"))
	}

	assert.NoError(t, p.UnlockAccount(ctx, u.ID, "admin-1"))

	status, err := p.IsUserLocked(ctx, u.ID)
	assert.NoError(t, err)
	assert.False(t, status.Locked)

	state, err := users.SecurityState(ctx, u.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, state.FailedLoginAttempts)
}

func TestLockUnknownAccount(t *testing.T) {
	p, _, _ := newTestPolicy(t)

	err := p.LockAccount(context.Background(), "ghost", "reason", time.Now().Add(time.Hour), "admin-1")
	assert.True(t, autherr.IsNotFound(err))
}
