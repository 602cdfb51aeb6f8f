package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/lockout"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
	"github.com/beaconhq/beacon-auth/internal/user"
)

// invalidCredentials is the one message every credential failure flattens
// to, so responses never reveal whether an email exists.
const invalidCredentials = "invalid email or password"

type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
}

// LoginResult is the successful outcome. MustChangePassword is advisory;
// RequiresTwoFactor means the session is not yet MFA-verified and the
// caller should prompt for a second factor.
type LoginResult struct {
	User               *user.User
	Session            *session.Session
	Tokens             *session.TokenPair
	MustChangePassword bool
	RequiresTwoFactor  bool
}

// Service orchestrates the credential flows: login, logout, password
// change and reset, and email verification. Session mechanics live in
// the session manager; this layer sequences them with lockout accounting
// and credential checks.
type Service struct {
	config   *config.PasswordConfig
	log      *zap.Logger
	users    user.Repository
	sessions *session.Manager
	lockouts *lockout.Policy
	tokens   *onetime.Manager
}

func NewService(config *config.PasswordConfig, log *zap.Logger, users user.Repository, sessions *session.Manager, lockouts *lockout.Policy, tokens *onetime.Manager) *Service {
	return &Service{
		config:   config,
		log:      log,
		users:    users,
		sessions: sessions,
		lockouts: lockouts,
		tokens:   tokens,
	}
}

// Login verifies credentials and mints a session. Failure ordering
// matters: the lock check precedes password verification so a locked
// account rejects even the correct password, and every pre-lock failure
// feeds the lockout counter.
func (s *Service) Login(ctx context.Context, req LoginRequest, device session.DeviceInfo) (*LoginResult, error) {
	email := user.NormalizeEmail(req.Email)

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			// Still track: the counter path must be indistinguishable.
			if terr := s.lockouts.TrackFailedLogin(ctx, email, device.IPAddress, "unknown email"); terr != nil {
				s.log.Error("failed login tracking", zap.Error(terr))
			}
			return nil, autherr.Unauthorized(invalidCredentials)
		}
		return nil, autherr.Database("login", err)
	}

	if !u.IsActive() {
		if terr := s.lockouts.TrackFailedLogin(ctx, email, device.IPAddress, "inactive account"); terr != nil {
			s.log.Error("failed login tracking", zap.Error(terr))
		}
		return nil, autherr.Unauthorized(invalidCredentials)
	}

	status, err := s.lockouts.IsUserLocked(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		msg := "account is locked"
		if status.Until != nil {
			msg = fmt.Sprintf("account is locked until %s", status.Until.UTC().Format(time.RFC3339))
		}
		return nil, autherr.Forbidden(msg)
	}

	cred, err := s.users.LatestCredential(ctx, u.ID)
	if err != nil {
		if errors.Is(err, user.ErrCredentialNotFound) {
			if terr := s.lockouts.TrackFailedLogin(ctx, email, device.IPAddress, "no credential"); terr != nil {
				s.log.Error("failed login tracking", zap.Error(terr))
			}
			return nil, autherr.Unauthorized(invalidCredentials)
		}
		return nil, autherr.Database("login", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)) != nil {
		if terr := s.lockouts.TrackFailedLogin(ctx, email, device.IPAddress, "wrong password"); terr != nil {
			s.log.Error("failed login tracking", zap.Error(terr))
		}
		return nil, autherr.Unauthorized(invalidCredentials)
	}

	if cred.Expired(time.Now()) {
		return nil, autherr.Forbidden("password has expired and must be reset")
	}

	if err := s.users.RecordLoginSuccess(ctx, u.ID, device.IPAddress); err != nil {
		return nil, autherr.Database("login", err)
	}

	sess, pair, err := s.sessions.Issue(ctx, u.ID, device, req.RememberMe)
	if err != nil {
		return nil, err
	}

	state, err := s.users.SecurityState(ctx, u.ID)
	if err != nil {
		return nil, autherr.Database("login", err)
	}

	s.log.Info("login succeeded",
		zap.String("user_id", u.ID),
		zap.String("session_id", sess.ID),
		zap.Bool("requires_two_factor", state.TwoFactorEnabled))

	return &LoginResult{
		User:               u,
		Session:            sess,
		Tokens:             pair,
		MustChangePassword: cred.MustChange,
		RequiresTwoFactor:  state.TwoFactorEnabled && !sess.IsMfaVerified,
	}, nil
}

// Logout ends the current session, or every session the user holds when
// logoutAll is set.
func (s *Service) Logout(ctx context.Context, userID, sessionID string, logoutAll bool) error {
	if logoutAll {
		_, err := s.sessions.RevokeAllForUser(ctx, userID, "", userID, session.ReasonLogout)
		return err
	}
	_, err := s.sessions.Revoke(ctx, sessionID, userID, session.ReasonLogout)
	return err
}

// RefreshToken rotates a session's token pair.
func (s *Service) RefreshToken(ctx context.Context, rawRefreshToken string) (*session.Session, *session.TokenPair, error) {
	return s.sessions.Refresh(ctx, rawRefreshToken)
}

// ValidateAccessToken resolves a bearer token and pings session activity.
// A failed ping does not fail the request.
func (s *Service) ValidateAccessToken(ctx context.Context, rawToken string) (*user.User, *session.Session, error) {
	u, sess, err := s.sessions.ValidateAccessToken(ctx, rawToken)
	if err != nil {
		return nil, nil, err
	}
	if perr := s.sessions.TouchActivity(ctx, sess.ID); perr != nil {
		s.log.Warn("activity ping failed",
			zap.String("session_id", sess.ID), zap.Error(perr))
	}
	return u, sess, nil
}

// ChangePassword rotates the credential after re-verifying the current
// password. The new password must pass the strength rule and must not
// match recent history. Every other session the user holds is revoked.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	cred, err := s.users.LatestCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrCredentialNotFound) {
			return autherr.Unauthorized("current password is incorrect")
		}
		return autherr.Database("change password", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(currentPassword)) != nil {
		return autherr.Unauthorized("current password is incorrect")
	}

	if err := s.installNewPassword(ctx, userID, newPassword); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, keepSessionID, userID, session.ReasonPasswordChange); err != nil {
		return err
	}

	s.log.Info("password changed", zap.String("user_id", userID))
	return nil
}

// ForgotPassword starts a reset. The outcome is identical for known and
// unknown emails; for known active accounts the raw token is returned
// for delivery, otherwise the empty string.
func (s *Service) ForgotPassword(ctx context.Context, email, ip, userAgent string) (string, error) {
	u, err := s.users.FindByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return "", nil
		}
		return "", autherr.Database("forgot password", err)
	}
	if !u.IsActive() {
		return "", nil
	}

	raw, _, err := s.tokens.IssueReset(ctx, u.ID, ip, userAgent)
	if err != nil {
		if autherr.IsForbidden(err) {
			// Rate-limited. Swallow: reporting it would confirm the account.
			s.log.Warn("reset token issuance throttled", zap.String("user_id", u.ID))
			return "", nil
		}
		return "", err
	}
	return raw, nil
}

// ResetPassword completes a reset: the token is spent, the credential
// rotated, the lockout cleared, and every session revoked. The token is
// only consumed once the new password has passed validation.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	t, err := s.tokens.CheckReset(ctx, rawToken)
	if err != nil {
		return err
	}

	if err := checkPasswordStrength(newPassword, s.config.MinLength); err != nil {
		return err
	}

	if _, err := s.tokens.ConsumeReset(ctx, rawToken); err != nil {
		return err
	}

	if err := s.installNewPassword(ctx, t.UserID, newPassword); err != nil {
		return err
	}

	if err := s.users.ClearLock(ctx, t.UserID); err != nil {
		return autherr.Database("reset password", err)
	}
	if _, err := s.tokens.InvalidateResets(ctx, t.UserID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, t.UserID, "", "", session.ReasonPasswordReset); err != nil {
		return err
	}

	s.log.Info("password reset completed", zap.String("user_id", t.UserID))
	return nil
}

// SendVerificationEmail issues a verification token for the account's
// current address and returns it for delivery.
func (s *Service) SendVerificationEmail(ctx context.Context, userID string) (string, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return "", autherr.NotFound("account")
		}
		return "", autherr.Database("send verification email", err)
	}
	if u.EmailVerified {
		return "", autherr.ValidationMsg("email", "email is already verified")
	}

	raw, _, err := s.tokens.IssueVerification(ctx, userID, u.Email)
	if err != nil {
		return "", err
	}
	return raw, nil
}

// VerifyEmail spends a verification token and marks the address
// verified, activating pending accounts. A token issued for a previous
// address is rejected.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	t, err := s.tokens.ConsumeVerification(ctx, rawToken)
	if err != nil {
		return err
	}

	u, err := s.users.FindByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return autherr.NotFound("account")
		}
		return autherr.Database("verify email", err)
	}
	if user.NormalizeEmail(u.Email) != user.NormalizeEmail(t.Email) {
		return autherr.ValidationMsg("token", "email address has changed since the token was issued")
	}

	if err := s.users.MarkEmailVerified(ctx, t.UserID); err != nil {
		return autherr.Database("verify email", err)
	}

	s.log.Info("email verified", zap.String("user_id", t.UserID))
	return nil
}

// installNewPassword validates, reuse-checks, hashes, and appends a new
// credential record.
func (s *Service) installNewPassword(ctx context.Context, userID, newPassword string) error {
	if err := checkPasswordStrength(newPassword, s.config.MinLength); err != nil {
		return err
	}

	recent, err := s.users.RecentCredentials(ctx, userID, s.config.HistoryDepth)
	if err != nil {
		return autherr.Database("check password history", err)
	}
	hashes := make([]string, len(recent))
	for i, c := range recent {
		hashes[i] = c.PasswordHash
	}
	if matchesAny(hashes, newPassword) {
		return autherr.ValidationMsg("password", "password was used recently")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.config.BcryptCost)
	if err != nil {
		return autherr.Database("hash password", err)
	}

	if err := s.users.InsertCredential(ctx, &user.Credential{
		UserID:       userID,
		PasswordHash: string(hash),
	}); err != nil {
		return autherr.Database("store credential", err)
	}
	if err := s.users.RecordPasswordChange(ctx, userID, time.Now()); err != nil {
		return autherr.Database("store credential", err)
	}
	return nil
}
