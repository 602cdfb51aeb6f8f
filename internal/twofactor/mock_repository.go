package twofactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
)

// MockRepository is an in-memory Repository for tests, keyed by user ID.
type MockRepository struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
	seq     int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{secrets: make(map[string]*Secret)}
}

func (m *MockRepository) FindByUserID(ctx context.Context, userID string) (*Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[userID]
	if !ok {
		return nil, ErrSecretNotFound
	}
	cp := *s
	cp.BackupCodes = append(datatypes.JSONSlice[string]{}, s.BackupCodes...)
	return &cp, nil
}

func (m *MockRepository) ReplacePending(ctx context.Context, s *Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.secrets[s.UserID]; ok && existing.Enabled {
		return fmt.Errorf("duplicate key for user %s", s.UserID)
	}
	if s.ID == "" {
		m.seq++
		s.ID = fmt.Sprintf("2fa-%d", m.seq)
	}
	s.CreatedAt = time.Now()
	cp := *s
	m.secrets[s.UserID] = &cp
	return nil
}

func (m *MockRepository) Enable(ctx context.Context, id string, codes datatypes.JSONSlice[string], now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		if s.ID == id {
			if s.Enabled {
				return false, nil
			}
			s.Enabled = true
			at := now
			s.EnabledAt = &at
			s.VerifiedAt = &at
			s.BackupCodes = append(datatypes.JSONSlice[string]{}, codes...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) SwapBackupCodes(ctx context.Context, id string, expected, next datatypes.JSONSlice[string]) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		if s.ID == id && s.Enabled && equalCodes(s.BackupCodes, expected) {
			s.BackupCodes = append(datatypes.JSONSlice[string]{}, next...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) SetLastUsed(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.secrets {
		if s.ID == id {
			at := now
			s.LastUsedAt = &at
		}
	}
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[userID]; !ok {
		return false, nil
	}
	delete(m.secrets, userID)
	return true, nil
}

func equalCodes(a, b datatypes.JSONSlice[string]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
