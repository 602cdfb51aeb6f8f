package onetime

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrTokenNotFound = errors.New("token not found")

type Repository interface {
	CreateReset(ctx context.Context, t *ResetToken) error
	FindResetByHash(ctx context.Context, hash string) (*ResetToken, error)
	MarkResetUsed(ctx context.Context, id string, now time.Time) (bool, error)
	CountRecentResets(ctx context.Context, userID string, since time.Time) (int64, error)
	InvalidateUserResets(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteResetsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	CreateVerification(ctx context.Context, t *VerificationToken) error
	FindVerificationByHash(ctx context.Context, hash string) (*VerificationToken, error)
	MarkVerificationUsed(ctx context.Context, id string, now time.Time) (bool, error)
	CountRecentVerifications(ctx context.Context, userID string, since time.Time) (int64, error)
	DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateReset(ctx context.Context, t *ResetToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) FindResetByHash(ctx context.Context, hash string) (*ResetToken, error) {
	var t ResetToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// MarkResetUsed consumes the token only while it is still live, so two
// racing resets cannot both succeed on the same token.
func (r *repository) MarkResetUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ResetToken{}).
		Where("id = ? AND used_at IS NULL AND expires_at > ?", id, now).
		Update("used_at", now)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CountRecentResets(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ResetToken{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// InvalidateUserResets burns every outstanding reset token for the user.
// Issuing a fresh token or completing a reset calls this so only the
// newest grant can ever win.
func (r *repository) InvalidateUserResets(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&ResetToken{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Update("used_at", now)
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteResetsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&ResetToken{}).
		Select("id").
		Where("expires_at < ?", cutoff).
		Limit(limit)

	res := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&ResetToken{})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateVerification(ctx context.Context, t *VerificationToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) FindVerificationByHash(ctx context.Context, hash string) (*VerificationToken, error) {
	var t VerificationToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) MarkVerificationUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&VerificationToken{}).
		Where("id = ? AND verified_at IS NULL AND expires_at > ?", id, now).
		Update("verified_at", now)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) CountRecentVerifications(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&VerificationToken{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *repository) DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&VerificationToken{}).
		Select("id").
		Where("expires_at < ?", cutoff).
		Limit(limit)

	res := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&VerificationToken{})
	return res.RowsAffected, res.Error
}
