package onetime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
)

// Manager issues and consumes the single-use tokens backing password
// resets and email verification. Raw secrets leave this package only at
// issuance; everything else works on hashes.
type Manager struct {
	config *config.OneTimeTokenConfig
	log    *zap.Logger
	repo   Repository
	codec  *token.Codec
}

func NewManager(config *config.OneTimeTokenConfig, log *zap.Logger, repo Repository, codec *token.Codec) *Manager {
	return &Manager{
		config: config,
		log:    log,
		repo:   repo,
		codec:  codec,
	}
}

// IssueReset mints a password-reset token. Outstanding tokens for the
// user are burned first so only the newest grant is live, and issuance
// is rate limited per user over a sliding window.
func (m *Manager) IssueReset(ctx context.Context, userID, ipAddress, userAgent string) (string, *ResetToken, error) {
	now := time.Now()

	if err := m.checkIssueRate(ctx, userID, now, m.repo.CountRecentResets); err != nil {
		return "", nil, err
	}

	if _, err := m.repo.InvalidateUserResets(ctx, userID, now); err != nil {
		return "", nil, autherr.Database("invalidate reset tokens", err)
	}

	opaque, err := m.codec.NewOpaqueToken()
	if err != nil {
		return "", nil, autherr.Database("mint reset token", err)
	}

	t := &ResetToken{
		UserID:    userID,
		TokenHash: opaque.Hash,
		ExpiresAt: now.Add(m.config.PasswordResetTTL),
	}
	if ipAddress != "" {
		t.IPAddress = &ipAddress
	}
	if userAgent != "" {
		t.UserAgent = &userAgent
	}

	if err := m.repo.CreateReset(ctx, t); err != nil {
		return "", nil, autherr.Database("create reset token", err)
	}

	m.log.Info("password reset token issued",
		zap.String("user_id", userID),
		zap.Time("expires_at", t.ExpiresAt))
	return opaque.Raw, t, nil
}

// CheckReset reports whether a raw reset token is still live without
// consuming it.
func (m *Manager) CheckReset(ctx context.Context, rawToken string) (*ResetToken, error) {
	t, err := m.repo.FindResetByHash(ctx, m.codec.Hash(rawToken))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, autherr.NotFound("reset token")
		}
		return nil, autherr.Database("find reset token", err)
	}
	if !t.Usable(time.Now()) {
		return nil, autherr.ValidationMsg("token", "reset token is expired or already used")
	}
	return t, nil
}

// ConsumeReset validates and spends a reset token in one step. The
// conditional update guarantees at most one caller ever consumes it.
func (m *Manager) ConsumeReset(ctx context.Context, rawToken string) (*ResetToken, error) {
	t, err := m.CheckReset(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	ok, err := m.repo.MarkResetUsed(ctx, t.ID, time.Now())
	if err != nil {
		return nil, autherr.Database("consume reset token", err)
	}
	if !ok {
		return nil, autherr.ValidationMsg("token", "reset token is expired or already used")
	}

	m.log.Info("password reset token consumed",
		zap.String("user_id", t.UserID),
		zap.String("token_id", t.ID))
	return t, nil
}

// InvalidateResets burns every outstanding reset token for the user,
// called after a successful password change or reset.
func (m *Manager) InvalidateResets(ctx context.Context, userID string) (int64, error) {
	count, err := m.repo.InvalidateUserResets(ctx, userID, time.Now())
	if err != nil {
		return 0, autherr.Database("invalidate reset tokens", err)
	}
	return count, nil
}

// IssueVerification mints an email-verification token bound to the
// address it was issued for.
func (m *Manager) IssueVerification(ctx context.Context, userID, email string) (string, *VerificationToken, error) {
	now := time.Now()

	if err := m.checkIssueRate(ctx, userID, now, m.repo.CountRecentVerifications); err != nil {
		return "", nil, err
	}

	opaque, err := m.codec.NewOpaqueToken()
	if err != nil {
		return "", nil, autherr.Database("mint verification token", err)
	}

	t := &VerificationToken{
		UserID:    userID,
		Email:     email,
		TokenHash: opaque.Hash,
		ExpiresAt: now.Add(m.config.EmailVerificationTTL),
	}
	if err := m.repo.CreateVerification(ctx, t); err != nil {
		return "", nil, autherr.Database("create verification token", err)
	}

	m.log.Info("email verification token issued",
		zap.String("user_id", userID),
		zap.Time("expires_at", t.ExpiresAt))
	return opaque.Raw, t, nil
}

// ConsumeVerification validates and spends an email-verification token.
func (m *Manager) ConsumeVerification(ctx context.Context, rawToken string) (*VerificationToken, error) {
	t, err := m.repo.FindVerificationByHash(ctx, m.codec.Hash(rawToken))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, autherr.NotFound("verification token")
		}
		return nil, autherr.Database("find verification token", err)
	}
	if !t.Usable(time.Now()) {
		return nil, autherr.ValidationMsg("token", "verification token is expired or already used")
	}

	ok, err := m.repo.MarkVerificationUsed(ctx, t.ID, time.Now())
	if err != nil {
		return nil, autherr.Database("consume verification token", err)
	}
	if !ok {
		return nil, autherr.ValidationMsg("token", "verification token is expired or already used")
	}

	m.log.Info("email verification token consumed",
		zap.String("user_id", t.UserID),
		zap.String("email", t.Email))
	return t, nil
}

// DeleteExpired prunes long-expired tokens of both kinds, keeping rows
// around for the configured retention so abuse can be investigated.
func (m *Manager) DeleteExpired(ctx context.Context, batchSize int) (int64, error) {
	cutoff := time.Now().Add(-m.config.Retention)

	resets, err := m.repo.DeleteResetsBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, autherr.Database("prune reset tokens", err)
	}
	verifications, err := m.repo.DeleteVerificationsBefore(ctx, cutoff, batchSize)
	if err != nil {
		return resets, autherr.Database("prune verification tokens", err)
	}
	return resets + verifications, nil
}

func (m *Manager) checkIssueRate(ctx context.Context, userID string, now time.Time, count func(context.Context, string, time.Time) (int64, error)) error {
	if m.config.IssueLimit <= 0 {
		return nil
	}
	recent, err := count(ctx, userID, now.Add(-m.config.IssueWindow))
	if err != nil {
		return autherr.Database("count recent tokens", err)
	}
	if recent >= int64(m.config.IssueLimit) {
		return autherr.Forbidden("too many token requests, try again later")
	}
	return nil
}
