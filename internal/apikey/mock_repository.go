package apikey

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu   sync.RWMutex
	keys map[string]*Key
	seq  int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{keys: make(map[string]*Key)}
}

func (m *MockRepository) Create(ctx context.Context, k *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k.ID == "" {
		m.seq++
		k.ID = fmt.Sprintf("key-%d", m.seq)
	}
	k.CreatedAt = time.Now()
	cp := m.clone(k)
	m.keys[k.ID] = cp
	return nil
}

func (m *MockRepository) FindByHash(ctx context.Context, hash string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.keys {
		if k.KeyHash == hash {
			return m.clone(k), nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MockRepository) FindByID(ctx context.Context, id string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return m.clone(k), nil
}

func (m *MockRepository) ListForUser(ctx context.Context, userID string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []Key
	for _, k := range m.keys {
		if k.UserID == userID {
			keys = append(keys, *m.clone(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (m *MockRepository) CountActiveForUser(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, k := range m.keys {
		if k.UserID == userID && k.IsActive && k.RevokedAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) RecordUsage(ctx context.Context, id, ip string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return nil
	}
	k.UsageCount++
	at := now
	k.LastUsedAt = &at
	if ip != "" {
		addr := ip
		k.LastUsedIP = &addr
	}
	return nil
}

func (m *MockRepository) Revoke(ctx context.Context, id, revokedBy, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok || k.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	k.RevokedAt = &now
	k.IsActive = false
	if revokedBy != "" {
		by := revokedBy
		k.RevokedBy = &by
	}
	if reason != "" {
		r := reason
		k.RevokeReason = &r
	}
	return true, nil
}

func (m *MockRepository) ResetUsageCounters(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, k := range m.keys {
		if k.UsageCount > 0 {
			k.UsageCount = 0
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) DeactivateExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, k := range m.keys {
		if count >= int64(limit) {
			break
		}
		if k.IsActive && k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
			k.IsActive = false
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) clone(k *Key) *Key {
	cp := *k
	cp.Scopes = append(cp.Scopes[:0:0], k.Scopes...)
	cp.AllowedIPs = append(cp.AllowedIPs[:0:0], k.AllowedIPs...)
	cp.AllowedOrigins = append(cp.AllowedOrigins[:0:0], k.AllowedOrigins...)
	return &cp
}
