package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

const (
	ReasonExpired         = "Session expired"
	ReasonAbsoluteTimeout = "Absolute session timeout"
	ReasonLogout          = "User logout"
	ReasonPasswordReset   = "Password reset"
	ReasonPasswordChange  = "Password changed"
)

const bearerType = "Bearer"

// Manager owns the session lifecycle: issuance, validation, rotation,
// revocation, and the expiry sweep.
type Manager struct {
	config *config.SessionConfig
	log    *zap.Logger
	repo   Repository
	users  user.Repository
	codec  *token.Codec
}

func NewManager(config *config.SessionConfig, log *zap.Logger, repo Repository, users user.Repository, codec *token.Codec) *Manager {
	return &Manager{
		config: config,
		log:    log,
		repo:   repo,
		users:  users,
		codec:  codec,
	}
}

// Issue mints a fresh token pair and creates the backing session. The raw
// tokens exist only in the returned pair.
func (m *Manager) Issue(ctx context.Context, userID string, device DeviceInfo, rememberMe bool) (*Session, *TokenPair, error) {
	access, err := m.codec.NewOpaqueToken()
	if err != nil {
		return nil, nil, autherr.Database("mint session tokens", err)
	}
	refresh, err := m.codec.NewOpaqueToken()
	if err != nil {
		return nil, nil, autherr.Database("mint session tokens", err)
	}

	s, err := m.Create(ctx, userID, access.Hash, refresh.Hash, device, rememberMe)
	if err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		ExpiresIn:    int64(time.Until(s.ExpiresAt).Seconds()),
		TokenType:    bearerType,
	}
	return s, pair, nil
}

// Create persists a new active session. Idle and absolute timeouts follow
// fixed policy regardless of the requested access TTL.
func (m *Manager) Create(ctx context.Context, userID, tokenHash, refreshTokenHash string, device DeviceInfo, rememberMe bool) (*Session, error) {
	now := time.Now()

	accessTTL := m.config.AccessTokenTTL
	if rememberMe {
		accessTTL = m.config.RememberMeTTL
	}

	idleAt := now.Add(m.config.IdleTimeout)
	absoluteAt := now.Add(m.config.AbsoluteTimeout)
	refreshAt := now.Add(m.config.RefreshTokenTTL)

	deviceType := device.DeviceType
	if deviceType == "" {
		deviceType = DeviceWeb
	}

	s := &Session{
		UserID:            userID,
		TokenHash:         tokenHash,
		RefreshTokenHash:  refreshTokenHash,
		DeviceType:        deviceType,
		ExpiresAt:         now.Add(accessTTL),
		RefreshExpiresAt:  &refreshAt,
		IdleTimeoutAt:     &idleAt,
		AbsoluteTimeoutAt: &absoluteAt,
		LastActivityAt:    &now,
	}
	if device.DeviceID != "" {
		s.DeviceID = &device.DeviceID
	}
	if device.DeviceName != "" {
		s.DeviceName = &device.DeviceName
	}
	if device.UserAgent != "" {
		s.UserAgent = &device.UserAgent
	}
	if device.IPAddress != "" {
		s.IPAddress = &device.IPAddress
	}

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, autherr.Database("create session", err)
	}

	m.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.String("device_type", string(deviceType)),
		zap.Bool("remember_me", rememberMe))
	return s, nil
}

// FindByID is a pure read; it never mutates session state.
func (m *Manager) FindByID(ctx context.Context, id string) (*Session, error) {
	s, err := m.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, autherr.NotFound("session")
		}
		return nil, autherr.Database("find session", err)
	}
	return s, nil
}

func (m *Manager) FindByTokenHash(ctx context.Context, hash string) (*Session, error) {
	s, err := m.repo.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, autherr.NotFound("session")
		}
		return nil, autherr.Database("find session", err)
	}
	return s, nil
}

func (m *Manager) FindByRefreshTokenHash(ctx context.Context, hash string) (*Session, error) {
	s, err := m.repo.FindByRefreshTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, autherr.NotFound("session")
		}
		return nil, autherr.Database("find session", err)
	}
	return s, nil
}

func (m *Manager) ActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := m.repo.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, autherr.Database("list active sessions", err)
	}
	return sessions, nil
}

// Update applies activity and refresh fields only; revocation is not
// reachable through it.
func (m *Manager) Update(ctx context.Context, id string, updates ActivityUpdate) error {
	if err := m.repo.Update(ctx, id, updates); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return autherr.NotFound("session")
		}
		return autherr.Database("update session", err)
	}
	return nil
}

// Extend pushes the access expiry out by extendBy from max(expiry, now)
// and keeps the refresh window a fixed margin past it. Returns false for
// revoked sessions.
func (m *Manager) Extend(ctx context.Context, id string, extendBy time.Duration) (bool, error) {
	s, err := m.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, autherr.NotFound("session")
		}
		return false, autherr.Database("extend session", err)
	}
	if s.RevokedAt != nil {
		return false, nil
	}

	base := s.ExpiresAt
	if now := time.Now(); base.Before(now) {
		base = now
	}
	newExpiry := base.Add(extendBy)
	newRefreshExpiry := newExpiry.Add(m.config.RefreshTokenTTL)

	ok, err := m.repo.ExtendExpiry(ctx, id, newExpiry, newRefreshExpiry)
	if err != nil {
		return false, autherr.Database("extend session", err)
	}
	return ok, nil
}

// Revoke is idempotent: an already-revoked session reports false without
// error and is never un-revoked. Rows are retained for audit.
func (m *Manager) Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error) {
	ok, err := m.repo.Revoke(ctx, id, revokedBy, reason)
	if err != nil {
		return false, autherr.Database("revoke session", err)
	}
	if ok {
		m.log.Info("session revoked",
			zap.String("session_id", id),
			zap.String("reason", reason))
	}
	return ok, nil
}

// RevokeAllForUser bulk-revokes, used by logout-all, password change, and
// lockout.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, revokedBy, reason string) (int64, error) {
	count, err := m.repo.RevokeAllForUser(ctx, userID, exceptSessionID, revokedBy, reason)
	if err != nil {
		return 0, autherr.Database("revoke user sessions", err)
	}
	if count > 0 {
		m.log.Info("user sessions revoked",
			zap.String("user_id", userID),
			zap.Int64("count", count),
			zap.String("reason", reason))
	}
	return count, nil
}

// RevokeExpired is the periodic sweep converting timed-out rows into
// revoked ones.
func (m *Manager) RevokeExpired(ctx context.Context, batchSize int) (int64, error) {
	count, err := m.repo.RevokeExpired(ctx, time.Now(), ReasonExpired, batchSize)
	if err != nil {
		return 0, autherr.Database("revoke expired sessions", err)
	}
	return count, nil
}

// DeleteEndedBefore prunes revoked rows past the audit retention window.
func (m *Manager) DeleteEndedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	count, err := m.repo.DeleteEndedBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, autherr.Database("prune sessions", err)
	}
	return count, nil
}

// ValidateAccessToken resolves a raw bearer token to its user and session.
// It is a pure read: activity pings are the caller's decision, via
// TouchActivity.
func (m *Manager) ValidateAccessToken(ctx context.Context, rawToken string) (*user.User, *Session, error) {
	s, err := m.repo.FindByTokenHash(ctx, m.codec.Hash(rawToken))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, autherr.Unauthorized("invalid or expired token")
		}
		return nil, nil, autherr.Database("validate access token", err)
	}

	now := time.Now()
	switch {
	case s.RevokedAt != nil:
		return nil, nil, autherr.Unauthorized("session has been revoked")
	case !now.Before(s.ExpiresAt):
		return nil, nil, autherr.Unauthorized("session has expired")
	case s.IdleExpired(now):
		return nil, nil, autherr.Unauthorized("session idle timeout exceeded")
	}

	u, err := m.users.FindByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, nil, autherr.Unauthorized("invalid or expired token")
		}
		return nil, nil, autherr.Database("validate access token", err)
	}

	return u, s, nil
}

// TouchActivity stamps last activity and pushes the idle window forward.
func (m *Manager) TouchActivity(ctx context.Context, id string) error {
	now := time.Now()
	idleAt := now.Add(m.config.IdleTimeout)
	return m.Update(ctx, id, ActivityUpdate{
		LastActivityAt: &now,
		IdleTimeoutAt:  &idleAt,
	})
}

// Refresh exchanges a raw refresh token for a rotated pair. Rotation is
// mandatory and single-use: the presented hashes are invalidated in the
// same conditional update that installs the new ones. An absolute-timeout
// hit revokes the session outright.
func (m *Manager) Refresh(ctx context.Context, rawRefreshToken string) (*Session, *TokenPair, error) {
	oldHash := m.codec.Hash(rawRefreshToken)
	s, err := m.repo.FindByRefreshTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, autherr.Unauthorized("invalid refresh token")
		}
		return nil, nil, autherr.Database("refresh token", err)
	}

	now := time.Now()
	if s.RevokedAt != nil {
		return nil, nil, autherr.Unauthorized("session has been revoked")
	}
	if s.AbsoluteExpired(now) {
		// Terminal: the hard ceiling passed, so the session ends here.
		if _, err := m.repo.Revoke(ctx, s.ID, "", ReasonAbsoluteTimeout); err != nil {
			m.log.Error("failed to revoke session past absolute timeout",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		return nil, nil, autherr.Unauthorized("session lifetime exceeded")
	}
	if s.RefreshExpired(now) {
		return nil, nil, autherr.Unauthorized("refresh token has expired")
	}

	access, err := m.codec.NewOpaqueToken()
	if err != nil {
		return nil, nil, autherr.Database("mint session tokens", err)
	}
	refresh, err := m.codec.NewOpaqueToken()
	if err != nil {
		return nil, nil, autherr.Database("mint session tokens", err)
	}

	expiresAt := now.Add(m.config.RefreshedAccessTTL)
	refreshExpiresAt := now.Add(m.config.RefreshedTTL)
	idleAt := now.Add(m.config.IdleTimeout)

	rotated, err := m.repo.RotateTokens(ctx, s.ID, oldHash, access.Hash, refresh.Hash, expiresAt, refreshExpiresAt, idleAt)
	if err != nil {
		return nil, nil, autherr.Database("refresh token", err)
	}
	if !rotated {
		// Lost the race to a concurrent refresh, or the token was already
		// rotated out from under us. Either way the presented token is spent.
		return nil, nil, autherr.Unauthorized("invalid refresh token")
	}

	s.TokenHash = access.Hash
	s.RefreshTokenHash = refresh.Hash
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = &refreshExpiresAt
	s.IdleTimeoutAt = &idleAt

	m.log.Info("session tokens rotated", zap.String("session_id", s.ID))

	pair := &TokenPair{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		ExpiresIn:    int64(time.Until(expiresAt).Seconds()),
		TokenType:    bearerType,
	}
	return s, pair, nil
}

// MarkMfaVerified stamps the session after a successful second factor.
func (m *Manager) MarkMfaVerified(ctx context.Context, id string) error {
	s, err := m.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return autherr.NotFound("session")
		}
		return autherr.Database("mark mfa verified", err)
	}
	if s.RevokedAt != nil {
		return autherr.Unauthorized("session has been revoked")
	}
	if err := m.repo.SetMfaVerified(ctx, id); err != nil {
		return autherr.Database("mark mfa verified", err)
	}
	return nil
}
