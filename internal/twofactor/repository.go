package twofactor

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrSecretNotFound = errors.New("two-factor secret not found")

type Repository interface {
	FindByUserID(ctx context.Context, userID string) (*Secret, error)
	// ReplacePending swaps out any not-yet-enabled enrollment for a fresh
	// one. An enabled row is never touched.
	ReplacePending(ctx context.Context, s *Secret) error
	// Enable flips a pending row to enabled and installs the backup code
	// hashes. Returns false if the row is gone or already enabled.
	Enable(ctx context.Context, id string, codes datatypes.JSONSlice[string], now time.Time) (bool, error)
	// SwapBackupCodes replaces the stored hashes only if they still match
	// the expected set, so two verifications cannot both spend one code.
	SwapBackupCodes(ctx context.Context, id string, expected, next datatypes.JSONSlice[string]) (bool, error)
	SetLastUsed(ctx context.Context, id string, now time.Time) error
	Delete(ctx context.Context, userID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByUserID(ctx context.Context, userID string) (*Secret, error) {
	var s Secret
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repository) ReplacePending(ctx context.Context, s *Secret) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("user_id = ? AND enabled = false", s.UserID).
			Delete(&Secret{}).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
}

func (r *repository) Enable(ctx context.Context, id string, codes datatypes.JSONSlice[string], now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Secret{}).
		Where("id = ? AND enabled = false", id).
		Updates(map[string]any{
			"enabled":      true,
			"enabled_at":   now,
			"verified_at":  now,
			"backup_codes": codes,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SwapBackupCodes(ctx context.Context, id string, expected, next datatypes.JSONSlice[string]) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Secret{}).
		Where("id = ? AND enabled = true AND backup_codes = ?", id, expected).
		Update("backup_codes", next)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetLastUsed(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&Secret{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error
}

func (r *repository) Delete(ctx context.Context, userID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Secret{})
	return res.RowsAffected > 0, res.Error
}
