package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"

	"github.com/beaconhq/beacon-auth/internal/autherr"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/token"
	"github.com/beaconhq/beacon-auth/internal/user"
)

const (
	totpPeriod = 30
	qrSize     = 256
)

// SessionStamper marks a session as having passed its second factor.
type SessionStamper interface {
	MarkMfaVerified(ctx context.Context, sessionID string) error
}

// Manager drives the TOTP enrollment and verification lifecycle. An
// enrollment is pending until the user proves possession of the secret
// with a live code; only then does the account require a second factor.
type Manager struct {
	config   *config.TwoFactorConfig
	password *config.PasswordConfig
	log      *zap.Logger
	repo     Repository
	users    user.Repository
	sessions SessionStamper
	codec    *token.Codec
}

func NewManager(config *config.TwoFactorConfig, password *config.PasswordConfig, log *zap.Logger, repo Repository, users user.Repository, sessions SessionStamper, codec *token.Codec) *Manager {
	return &Manager{
		config:   config,
		password: password,
		log:      log,
		repo:     repo,
		users:    users,
		sessions: sessions,
		codec:    codec,
	}
}

// GenerateSecret starts enrollment: it mints a fresh TOTP secret, stores
// it pending, and returns the otpauth URI plus a QR code for the
// authenticator app. A repeat call replaces the pending secret; an
// already-enabled account must disable first.
func (m *Manager) GenerateSecret(ctx context.Context, userID, accountName string) (*Enrollment, error) {
	existing, err := m.repo.FindByUserID(ctx, userID)
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return nil, autherr.Database("find two-factor secret", err)
	}
	if existing != nil && existing.Enabled {
		return nil, autherr.Forbidden("two-factor authentication is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, autherr.Database("generate totp secret", err)
	}

	s := &Secret{
		UserID: userID,
		Secret: key.Secret(),
	}
	if err := m.repo.ReplacePending(ctx, s); err != nil {
		return nil, autherr.Database("store two-factor secret", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrSize)
	if err != nil {
		return nil, autherr.Database("render enrollment qr code", err)
	}

	m.log.Info("two-factor enrollment started", zap.String("user_id", userID))
	return &Enrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodePNG:  png,
	}, nil
}

// Enable completes enrollment. The submitted code must validate against
// the pending secret; on success the row flips to enabled, the account
// flag is set, and a fresh set of backup codes is returned in plaintext
// exactly once.
func (m *Manager) Enable(ctx context.Context, userID, code string) ([]string, error) {
	s, err := m.pendingSecret(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !m.validateTOTP(code, s.Secret) {
		return nil, autherr.Unauthorized("invalid two-factor code")
	}

	plain, err := m.codec.NewBackupCodes(m.config.BackupCodes)
	if err != nil {
		return nil, autherr.Database("generate backup codes", err)
	}
	hashes, err := m.hashCodes(plain)
	if err != nil {
		return nil, autherr.Database("hash backup codes", err)
	}

	ok, err := m.repo.Enable(ctx, s.ID, hashes, time.Now())
	if err != nil {
		return nil, autherr.Database("enable two-factor", err)
	}
	if !ok {
		return nil, autherr.Forbidden("two-factor authentication is already enabled")
	}

	if err := m.users.SetTwoFactorEnabled(ctx, userID, true, &s.ID); err != nil {
		return nil, autherr.Database("enable two-factor", err)
	}

	m.log.Info("two-factor enabled", zap.String("user_id", userID))
	return plain, nil
}

// Verify checks a submitted code against the enabled secret, accepting
// either a live TOTP code or an unspent backup code. A backup code is
// consumed atomically so it can never be replayed. When a session ID is
// given the session is stamped as MFA-verified.
func (m *Manager) Verify(ctx context.Context, userID, sessionID, code string) error {
	s, err := m.enabledSecret(ctx, userID)
	if err != nil {
		return err
	}

	matched := m.validateTOTP(code, s.Secret)
	if !matched {
		matched, err = m.spendBackupCode(ctx, s, code)
		if err != nil {
			return err
		}
	}
	if !matched {
		return autherr.Unauthorized("invalid two-factor code")
	}

	if err := m.repo.SetLastUsed(ctx, s.ID, time.Now()); err != nil {
		m.log.Error("failed to stamp two-factor use",
			zap.String("user_id", userID), zap.Error(err))
	}

	if sessionID != "" {
		if err := m.sessions.MarkMfaVerified(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Disable tears down two-factor for the account. The caller must
// re-confirm the account password unless an administrator overrides.
func (m *Manager) Disable(ctx context.Context, userID, password string, adminOverride bool) error {
	if _, err := m.enabledSecret(ctx, userID); err != nil {
		return err
	}

	if !adminOverride {
		if err := m.confirmPassword(ctx, userID, password); err != nil {
			return err
		}
	}

	if _, err := m.repo.Delete(ctx, userID); err != nil {
		return autherr.Database("disable two-factor", err)
	}
	if err := m.users.SetTwoFactorEnabled(ctx, userID, false, nil); err != nil {
		return autherr.Database("disable two-factor", err)
	}

	m.log.Info("two-factor disabled",
		zap.String("user_id", userID),
		zap.Bool("admin_override", adminOverride))
	return nil
}

// Enabled reports whether the account has a completed enrollment.
func (m *Manager) Enabled(ctx context.Context, userID string) (bool, error) {
	s, err := m.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return false, nil
		}
		return false, autherr.Database("find two-factor secret", err)
	}
	return s.Enabled, nil
}

// RegenerateBackupCodes replaces the whole backup set after password
// re-confirmation. Previously issued codes stop working.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	s, err := m.enabledSecret(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.confirmPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	plain, err := m.codec.NewBackupCodes(m.config.BackupCodes)
	if err != nil {
		return nil, autherr.Database("generate backup codes", err)
	}
	hashes, err := m.hashCodes(plain)
	if err != nil {
		return nil, autherr.Database("hash backup codes", err)
	}

	ok, err := m.repo.SwapBackupCodes(ctx, s.ID, s.BackupCodes, hashes)
	if err != nil {
		return nil, autherr.Database("replace backup codes", err)
	}
	if !ok {
		return nil, autherr.ValidationMsg("backup_codes", "backup codes changed concurrently, try again")
	}

	m.log.Info("backup codes regenerated", zap.String("user_id", userID))
	return plain, nil
}

func (m *Manager) pendingSecret(ctx context.Context, userID string) (*Secret, error) {
	s, err := m.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return nil, autherr.NotFound("two-factor enrollment")
		}
		return nil, autherr.Database("find two-factor secret", err)
	}
	if s.Enabled {
		return nil, autherr.Forbidden("two-factor authentication is already enabled")
	}
	return s, nil
}

func (m *Manager) enabledSecret(ctx context.Context, userID string) (*Secret, error) {
	s, err := m.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return nil, autherr.NotFound("two-factor enrollment")
		}
		return nil, autherr.Database("find two-factor secret", err)
	}
	if !s.Enabled {
		return nil, autherr.Forbidden("two-factor authentication is not enabled")
	}
	return s, nil
}

func (m *Manager) validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      m.config.DriftSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// spendBackupCode compares the submitted code against every stored hash
// so timing does not reveal which slot matched, then removes the matched
// hash with a compare-and-swap.
func (m *Manager) spendBackupCode(ctx context.Context, s *Secret, code string) (bool, error) {
	matched := -1
	for i, h := range s.BackupCodes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return false, nil
	}

	next := make(datatypes.JSONSlice[string], 0, len(s.BackupCodes)-1)
	for i, h := range s.BackupCodes {
		if i != matched {
			next = append(next, h)
		}
	}

	ok, err := m.repo.SwapBackupCodes(ctx, s.ID, s.BackupCodes, next)
	if err != nil {
		return false, autherr.Database("consume backup code", err)
	}
	if !ok {
		// Another verification spent a code first; the presented one may
		// already be gone.
		return false, autherr.Unauthorized("invalid two-factor code")
	}

	m.log.Info("backup code consumed",
		zap.String("user_id", s.UserID),
		zap.Int("remaining", len(next)))
	return true, nil
}

func (m *Manager) hashCodes(plain []string) (datatypes.JSONSlice[string], error) {
	hashes := make(datatypes.JSONSlice[string], len(plain))
	for i, code := range plain {
		h, err := bcrypt.GenerateFromPassword([]byte(code), m.password.BcryptCost)
		if err != nil {
			return nil, err
		}
		hashes[i] = string(h)
	}
	return hashes, nil
}

func (m *Manager) confirmPassword(ctx context.Context, userID, password string) error {
	cred, err := m.users.LatestCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrCredentialNotFound) {
			return autherr.Unauthorized("password confirmation failed")
		}
		return autherr.Database("confirm password", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return autherr.Unauthorized("password confirmation failed")
	}
	return nil
}
