package onetime

import (
	"context"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu            sync.RWMutex
	resets        map[string]*ResetToken
	verifications map[string]*VerificationToken
	seq           int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		resets:        make(map[string]*ResetToken),
		verifications: make(map[string]*VerificationToken),
	}
}

func (m *MockRepository) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + time.Now().Format("150405") + "-" + string(rune('a'+m.seq%26)) + string(rune('a'+(m.seq/26)%26))
}

func (m *MockRepository) CreateReset(ctx context.Context, t *ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = m.nextID("reset")
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.resets[t.ID] = &cp
	return nil
}

func (m *MockRepository) FindResetByHash(ctx context.Context, hash string) (*ResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.resets {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockRepository) MarkResetUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.resets[id]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.UsedAt = &now
	return true, nil
}

func (m *MockRepository) CountRecentResets(ctx context.Context, userID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, t := range m.resets {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) InvalidateUserResets(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, t := range m.resets {
		if t.UserID == userID && t.UsedAt == nil {
			at := now
			t.UsedAt = &at
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) DeleteResetsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, t := range m.resets {
		if count >= int64(limit) {
			break
		}
		if t.ExpiresAt.Before(cutoff) {
			delete(m.resets, id)
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) CreateVerification(ctx context.Context, t *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = m.nextID("verify")
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.verifications[t.ID] = &cp
	return nil
}

func (m *MockRepository) FindVerificationByHash(ctx context.Context, hash string) (*VerificationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.verifications {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockRepository) MarkVerificationUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.verifications[id]
	if !ok || t.VerifiedAt != nil || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.VerifiedAt = &now
	return true, nil
}

func (m *MockRepository) CountRecentVerifications(ctx context.Context, userID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, t := range m.verifications {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, t := range m.verifications {
		if count >= int64(limit) {
			break
		}
		if t.ExpiresAt.Before(cutoff) {
			delete(m.verifications, id)
			count++
		}
	}
	return count, nil
}
