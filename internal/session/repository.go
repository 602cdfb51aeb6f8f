package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// ActivityUpdate is the only in-place mutation a live session accepts
// outside rotation; revocation fields are out of its reach.
type ActivityUpdate struct {
	LastActivityAt   *time.Time
	IdleTimeoutAt    *time.Time
	RefreshTokenHash *string
	RefreshExpiresAt *time.Time
}

type Repository interface {
	Create(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id string) (*Session, error)
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*Session, error)
	ActiveForUser(ctx context.Context, userID string) ([]Session, error)

	Update(ctx context.Context, id string, updates ActivityUpdate) error
	ExtendExpiry(ctx context.Context, id string, expiresAt, refreshExpiresAt time.Time) (bool, error)
	RotateTokens(ctx context.Context, id, oldRefreshHash, newTokenHash, newRefreshHash string, expiresAt, refreshExpiresAt, idleTimeoutAt time.Time) (bool, error)

	SetMfaVerified(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, exceptID, revokedBy, reason string) (int64, error)
	RevokeExpired(ctx context.Context, now time.Time, reason string, limit int) (int64, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*Session, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByTokenHash(ctx context.Context, hash string) (*Session, error) {
	return r.findOne(ctx, "token_hash = ?", hash)
}

func (r *repository) FindByRefreshTokenHash(ctx context.Context, hash string) (*Session, error) {
	return r.findOne(ctx, "refresh_token_hash = ?", hash)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).Where(query, arg).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repository) ActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("last_activity_at DESC NULLS LAST").
		Find(&sessions).Error
	return sessions, err
}

func (r *repository) Update(ctx context.Context, id string, updates ActivityUpdate) error {
	fields := map[string]any{}
	if updates.LastActivityAt != nil {
		fields["last_activity_at"] = *updates.LastActivityAt
	}
	if updates.IdleTimeoutAt != nil {
		fields["idle_timeout_at"] = *updates.IdleTimeoutAt
	}
	if updates.RefreshTokenHash != nil {
		fields["refresh_token_hash"] = *updates.RefreshTokenHash
	}
	if updates.RefreshExpiresAt != nil {
		fields["refresh_expires_at"] = *updates.RefreshExpiresAt
	}
	if len(fields) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ExtendExpiry pushes both windows out, guarded so a revoked session can
// never be revived.
func (r *repository) ExtendExpiry(ctx context.Context, id string, expiresAt, refreshExpiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"expires_at":         expiresAt,
			"refresh_expires_at": refreshExpiresAt,
		})
	return res.RowsAffected > 0, res.Error
}

// RotateTokens swaps both hashes in one conditional update keyed on the
// presented refresh hash, so two racing refreshes converge: one wins, the
// other sees zero rows.
func (r *repository) RotateTokens(ctx context.Context, id, oldRefreshHash, newTokenHash, newRefreshHash string, expiresAt, refreshExpiresAt, idleTimeoutAt time.Time) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", id, oldRefreshHash).
		Updates(map[string]any{
			"token_hash":         newTokenHash,
			"refresh_token_hash": newRefreshHash,
			"expires_at":         expiresAt,
			"refresh_expires_at": refreshExpiresAt,
			"idle_timeout_at":    idleTimeoutAt,
			"last_activity_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetMfaVerified(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("is_mfa_verified", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke stamps the revocation fields once; rows are kept for audit.
func (r *repository) Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error) {
	fields := map[string]any{"revoked_at": time.Now()}
	if revokedBy != "" {
		fields["revoked_by"] = revokedBy
	}
	if reason != "" {
		fields["revoke_reason"] = reason
	}

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) RevokeAllForUser(ctx context.Context, userID, exceptID, revokedBy, reason string) (int64, error) {
	fields := map[string]any{"revoked_at": time.Now()}
	if revokedBy != "" {
		fields["revoked_by"] = revokedBy
	}
	if reason != "" {
		fields["revoke_reason"] = reason
	}

	q := r.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}

	res := q.Updates(fields)
	return res.RowsAffected, res.Error
}

// RevokeExpired converts expired-but-unrevoked rows so audit can tell a
// timeout from an active revocation.
func (r *repository) RevokeExpired(ctx context.Context, now time.Time, reason string, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&Session{}).
		Select("id").
		Where("revoked_at IS NULL AND expires_at <= ?", now).
		Limit(limit)

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id IN (?)", sub).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoke_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// DeleteEndedBefore physically removes revoked rows past the audit
// retention window.
func (r *repository) DeleteEndedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&Session{}).
		Select("id").
		Where("revoked_at IS NOT NULL AND revoked_at < ?", cutoff).
		Limit(limit)

	res := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}
