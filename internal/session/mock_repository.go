package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is the in-memory store used by manager and service tests.
type MockRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMockRepository() *MockRepository {
	return &MockRepository{sessions: make(map[string]*Session)}
}

func (r *MockRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now()

	clone := *s
	r.sessions[s.ID] = &clone
	return nil
}

func (r *MockRepository) FindByID(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *MockRepository) FindByTokenHash(_ context.Context, hash string) (*Session, error) {
	return r.findBy(func(s *Session) bool { return s.TokenHash == hash })
}

func (r *MockRepository) FindByRefreshTokenHash(_ context.Context, hash string) (*Session, error) {
	return r.findBy(func(s *Session) bool { return s.RefreshTokenHash == hash })
}

func (r *MockRepository) findBy(match func(*Session) bool) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if match(s) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *MockRepository) ActiveForUser(_ context.Context, userID string) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *MockRepository) Update(_ context.Context, id string, updates ActivityUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if updates.LastActivityAt != nil {
		s.LastActivityAt = updates.LastActivityAt
	}
	if updates.IdleTimeoutAt != nil {
		s.IdleTimeoutAt = updates.IdleTimeoutAt
	}
	if updates.RefreshTokenHash != nil {
		s.RefreshTokenHash = *updates.RefreshTokenHash
	}
	if updates.RefreshExpiresAt != nil {
		s.RefreshExpiresAt = updates.RefreshExpiresAt
	}
	return nil
}

func (r *MockRepository) ExtendExpiry(_ context.Context, id string, expiresAt, refreshExpiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = &refreshExpiresAt
	return true, nil
}

func (r *MockRepository) RotateTokens(_ context.Context, id, oldRefreshHash, newTokenHash, newRefreshHash string, expiresAt, refreshExpiresAt, idleTimeoutAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil || s.RefreshTokenHash != oldRefreshHash {
		return false, nil
	}
	now := time.Now()
	s.TokenHash = newTokenHash
	s.RefreshTokenHash = newRefreshHash
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = &refreshExpiresAt
	s.IdleTimeoutAt = &idleTimeoutAt
	s.LastActivityAt = &now
	return true, nil
}

func (r *MockRepository) SetMfaVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return ErrSessionNotFound
	}
	s.IsMfaVerified = true
	return nil
}

func (r *MockRepository) Revoke(_ context.Context, id, revokedBy, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	s.RevokedAt = &now
	if revokedBy != "" {
		s.RevokedBy = &revokedBy
	}
	if reason != "" {
		s.RevokeReason = &reason
	}
	return true, nil
}

func (r *MockRepository) RevokeAllForUser(_ context.Context, userID, exceptID, revokedBy, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var count int64
	for _, s := range r.sessions {
		if s.UserID != userID || s.RevokedAt != nil || s.ID == exceptID {
			continue
		}
		s.RevokedAt = &now
		if revokedBy != "" {
			s.RevokedBy = &revokedBy
		}
		if reason != "" {
			s.RevokeReason = &reason
		}
		count++
	}
	return count, nil
}

func (r *MockRepository) RevokeExpired(_ context.Context, now time.Time, reason string, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, s := range r.sessions {
		if int(count) >= limit {
			break
		}
		if s.RevokedAt == nil && !s.ExpiresAt.After(now) {
			at := now
			s.RevokedAt = &at
			s.RevokeReason = &reason
			count++
		}
	}
	return count, nil
}

func (r *MockRepository) DeleteEndedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, s := range r.sessions {
		if int(count) >= limit {
			break
		}
		if s.RevokedAt != nil && s.RevokedAt.Before(cutoff) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}
