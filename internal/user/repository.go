package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrCredentialNotFound = errors.New("credential not found")
)

// Repository is the credential store accessor: user rows, append-only
// password records, and the per-user security (lockout) state.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	MarkEmailVerified(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id, deletedBy, reason string) error

	InsertCredential(ctx context.Context, c *Credential) error
	LatestCredential(ctx context.Context, userID string) (*Credential, error)
	RecentCredentials(ctx context.Context, userID string, limit int) ([]Credential, error)

	SecurityState(ctx context.Context, userID string) (*SecurityState, error)
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	SetLock(ctx context.Context, userID string, until time.Time, reason string) error
	ClearLock(ctx context.Context, userID string) error
	RecordLoginSuccess(ctx context.Context, userID, ip string) error
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool, secretID *string) error
	RecordPasswordChange(ctx context.Context, userID string, at time.Time) error
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUser(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", u.Email).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUserExists
	}

	return r.db.WithContext(ctx).Create(u).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("email = ? AND deleted_at IS NULL", NormalizeEmail(email)).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) MarkEmailVerified(ctx context.Context, id string) error {
	now := time.Now()
	updates := map[string]any{
		"email_verified":    true,
		"email_verified_at": now,
	}

	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	// A pending account becomes usable once its email is verified.
	return r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND status = ?", id, StatusPendingVerification).
		Update("status", StatusActive).Error
}

func (r *repository) SoftDelete(ctx context.Context, id, deletedBy, reason string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"deleted_at":         now,
			"deleted_by":         deletedBy,
			"deactivated_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) InsertCredential(ctx context.Context, c *Credential) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) LatestCredential(ctx context.Context, userID string) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) RecentCredentials(ctx context.Context, userID string, limit int) ([]Credential, error) {
	var creds []Credential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&creds).Error
	return creds, err
}

// SecurityState returns the lockout record, creating it lazily.
func (r *repository) SecurityState(ctx context.Context, userID string) (*SecurityState, error) {
	var s SecurityState
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s = SecurityState{UserID: userID}
		if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// IncrementFailedLogins bumps the counter with a single conditional update
// so concurrent failures cannot lose increments, then reads back the count.
func (r *repository) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	if _, err := r.SecurityState(ctx, userID); err != nil {
		return 0, err
	}

	err := r.db.WithContext(ctx).Model(&SecurityState{}).
		Where("user_id = ?", userID).
		UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1")).Error
	if err != nil {
		return 0, err
	}

	var s SecurityState
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return 0, err
	}
	return s.FailedLoginAttempts, nil
}

func (r *repository) SetLock(ctx context.Context, userID string, until time.Time, reason string) error {
	if _, err := r.SecurityState(ctx, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&SecurityState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"locked_until": until,
			"lock_reason":  reason,
		}).Error
}

func (r *repository) ClearLock(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Model(&SecurityState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"lock_reason":           nil,
		}).Error
}

// RecordLoginSuccess clears the failure counter and lock atomically with
// stamping the login metadata.
func (r *repository) RecordLoginSuccess(ctx context.Context, userID, ip string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s SecurityState
		err := tx.Where("user_id = ?", userID).First(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s = SecurityState{UserID: userID}
			if err := tx.Create(&s).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		updates := map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"lock_reason":           nil,
			"last_login_at":         now,
		}
		if ip != "" {
			updates["last_login_ip"] = ip
		}
		if err := tx.Model(&SecurityState{}).
			Where("user_id = ?", userID).
			Updates(updates).Error; err != nil {
			return err
		}

		return tx.Model(&User{}).
			Where("id = ?", userID).
			UpdateColumn("total_login_count", gorm.Expr("total_login_count + 1")).Error
	})
}

func (r *repository) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool, secretID *string) error {
	if _, err := r.SecurityState(ctx, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&SecurityState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"two_factor_enabled":   enabled,
			"two_factor_secret_id": secretID,
		}).Error
}

func (r *repository) RecordPasswordChange(ctx context.Context, userID string, at time.Time) error {
	if _, err := r.SecurityState(ctx, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&SecurityState{}).
		Where("user_id = ?", userID).
		Update("last_password_change_at", at).Error
}
