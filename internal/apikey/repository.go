package apikey

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrKeyNotFound = errors.New("api key not found")

type Repository interface {
	Create(ctx context.Context, k *Key) error
	FindByHash(ctx context.Context, hash string) (*Key, error)
	FindByID(ctx context.Context, id string) (*Key, error)
	ListForUser(ctx context.Context, userID string) ([]Key, error)
	CountActiveForUser(ctx context.Context, userID string) (int64, error)
	// RecordUsage bumps the usage counter and stamps the last caller.
	RecordUsage(ctx context.Context, id, ip string, now time.Time) error
	Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error)
	// ResetUsageCounters zeroes every spent counter at the top of the
	// rate-limit window.
	ResetUsageCounters(ctx context.Context) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, k *Key) error {
	return r.db.WithContext(ctx).Create(k).Error
}

func (r *repository) FindByHash(ctx context.Context, hash string) (*Key, error) {
	return r.findOne(ctx, "key_hash = ?", hash)
}

func (r *repository) FindByID(ctx context.Context, id string) (*Key, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*Key, error) {
	var k Key
	err := r.db.WithContext(ctx).Where(query, arg).First(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (r *repository) ListForUser(ctx context.Context, userID string) ([]Key, error) {
	var keys []Key
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (r *repository) CountActiveForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Key{}).
		Where("user_id = ? AND is_active = true AND revoked_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

func (r *repository) RecordUsage(ctx context.Context, id, ip string, now time.Time) error {
	fields := map[string]any{
		"usage_count":  gorm.Expr("usage_count + 1"),
		"last_used_at": now,
	}
	if ip != "" {
		fields["last_used_ip"] = ip
	}
	return r.db.WithContext(ctx).Model(&Key{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error) {
	fields := map[string]any{
		"revoked_at": time.Now(),
		"is_active":  false,
	}
	if revokedBy != "" {
		fields["revoked_by"] = revokedBy
	}
	if reason != "" {
		fields["revoke_reason"] = reason
	}

	res := r.db.WithContext(ctx).Model(&Key{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ResetUsageCounters(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Key{}).
		Where("usage_count > 0").
		Update("usage_count", 0)
	return res.RowsAffected, res.Error
}

func (r *repository) DeactivateExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&Key{}).
		Select("id").
		Where("is_active = true AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Limit(limit)

	res := r.db.WithContext(ctx).Model(&Key{}).
		Where("id IN (?)", sub).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}
