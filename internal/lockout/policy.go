package lockout

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// SessionRevoker is the slice of the session manager the policy needs when
// an administrative lock terminates a user's sessions.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID, revokedBy, reason string) (int64, error)
}

// Status is the outward lock answer. Unknown accounts report unlocked so
// the response never reveals whether an email exists.
type Status struct {
	Locked bool
	Until  *time.Time
}

// Policy tracks failed logins and applies escalating lock durations on
// cumulative counts. The counter intentionally survives lock expiry; only
// a successful login or an admin unlock resets it.
type Policy struct {
	config   *config.LockoutConfig
	log      *zap.Logger
	users    user.Repository
	sessions SessionRevoker
}

func NewPolicy(config *config.LockoutConfig, log *zap.Logger, users user.Repository, sessions SessionRevoker) *Policy {
	return &Policy{
		config:   config,
		log:      log,
		users:    users,
		sessions: sessions,
	}
}

// TrackFailedLogin increments the failure counter and applies the lock
// tier the new count has reached. Unknown emails succeed silently.
func (p *Policy) TrackFailedLogin(ctx context.Context, email, ip, reason string) error {
	u, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil
		}
		return autherr.Database("track failed login", err)
	}

	attempts, err := p.users.IncrementFailedLogins(ctx, u.ID)
	if err != nil {
		return autherr.Database("track failed login", err)
	}

	p.log.Warn("failed login attempt",
		zap.String("user_id", u.ID),
		zap.Int("attempts", attempts),
		zap.String("ip", ip),
		zap.String("reason", reason))

	duration, ok := p.lockDuration(attempts)
	if !ok {
		return nil
	}

	until := time.Now().Add(duration)
	if err := p.users.SetLock(ctx, u.ID, until, "Too many failed login attempts"); err != nil {
		return autherr.Database("track failed login", err)
	}

	p.log.Warn("account locked",
		zap.String("user_id", u.ID),
		zap.Int("attempts", attempts),
		zap.Time("until", until))
	return nil
}

// lockDuration maps a cumulative failure count to the lock tier it lands
// in, highest tier first.
func (p *Policy) lockDuration(attempts int) (time.Duration, bool) {
	switch {
	case attempts >= p.config.LongThreshold:
		return p.config.LongDuration, true
	case attempts >= p.config.MediumThreshold:
		return p.config.MediumDuration, true
	case attempts >= p.config.ShortThreshold:
		return p.config.ShortDuration, true
	}
	return 0, false
}

// IsAccountLocked answers for an email address. Unknown users and expired
// locks both report unlocked.
func (p *Policy) IsAccountLocked(ctx context.Context, email string) (Status, error) {
	u, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return Status{}, nil
		}
		return Status{}, autherr.Database("check account lock", err)
	}
	return p.statusFor(ctx, u.ID)
}

// IsUserLocked is the by-id variant used internally by the login flow.
func (p *Policy) IsUserLocked(ctx context.Context, userID string) (Status, error) {
	return p.statusFor(ctx, userID)
}

func (p *Policy) statusFor(ctx context.Context, userID string) (Status, error) {
	state, err := p.users.SecurityState(ctx, userID)
	if err != nil {
		return Status{}, autherr.Database("check account lock", err)
	}
	if !state.Locked(time.Now()) {
		return Status{}, nil
	}
	return Status{Locked: true, Until: state.LockedUntil}, nil
}

// LockAccount is the administrative override. It also terminates every
// active session the user holds.
func (p *Policy) LockAccount(ctx context.Context, userID, reason string, until time.Time, lockedBy string) error {
	if _, err := p.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return autherr.NotFound("account")
		}
		return autherr.Database("lock account", err)
	}

	if err := p.users.SetLock(ctx, userID, until, reason); err != nil {
		return autherr.Database("lock account", err)
	}

	revoked, err := p.sessions.RevokeAllForUser(ctx, userID, "", lockedBy, "Account locked")
	if err != nil {
		return autherr.Database("lock account", err)
	}

	p.log.Warn("account locked by admin",
		zap.String("user_id", userID),
		zap.String("locked_by", lockedBy),
		zap.String("reason", reason),
		zap.Time("until", until),
		zap.Int64("revoked_sessions", revoked))
	return nil
}

// UnlockAccount clears the lock and the failed-attempt counter.
func (p *Policy) UnlockAccount(ctx context.Context, userID, unlockedBy string) error {
	if _, err := p.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return autherr.NotFound("account")
		}
		return autherr.Database("unlock account", err)
	}

	if err := p.users.ClearLock(ctx, userID); err != nil {
		return autherr.Database("unlock account", err)
	}

	p.log.Info("account unlocked",
		zap.String("user_id", userID),
		zap.String("unlocked_by", unlockedBy))
	return nil
}
