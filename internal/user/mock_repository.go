package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is the in-memory accessor used by service tests across
// the auth packages.
type MockRepository struct {
	mu          sync.RWMutex
	users       map[string]*User
	byEmail     map[string]*User
	credentials map[string][]Credential
	security    map[string]*SecurityState
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:       make(map[string]*User),
		byEmail:     make(map[string]*User),
		credentials: make(map[string][]Credential),
		security:    make(map[string]*SecurityState),
	}
}

func (r *MockRepository) CreateUser(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, exists := r.byEmail[u.Email]; exists {
		return ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()

	clone := *u
	r.users[u.ID] = &clone
	r.byEmail[u.Email] = &clone
	return nil
}

func (r *MockRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *MockRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byEmail[NormalizeEmail(email)]
	if !ok || u.DeletedAt != nil {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *MockRepository) UpdateStatus(_ context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	u.Status = status
	return nil
}

func (r *MockRepository) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	now := time.Now()
	u.EmailVerified = true
	u.EmailVerifiedAt = &now
	if u.Status == StatusPendingVerification {
		u.Status = StatusActive
	}
	return nil
}

func (r *MockRepository) SoftDelete(_ context.Context, id, deletedBy, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	u.DeletedBy = &deletedBy
	u.DeactivatedReason = &reason
	return nil
}

func (r *MockRepository) InsertCredential(_ context.Context, c *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.credentials[c.UserID] = append(r.credentials[c.UserID], *c)
	return nil
}

func (r *MockRepository) LatestCredential(_ context.Context, userID string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := r.sortedCredentials(userID)
	if len(creds) == 0 {
		return nil, ErrCredentialNotFound
	}
	clone := creds[0]
	return &clone, nil
}

func (r *MockRepository) RecentCredentials(_ context.Context, userID string, limit int) ([]Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := r.sortedCredentials(userID)
	if len(creds) > limit {
		creds = creds[:limit]
	}
	return creds, nil
}

func (r *MockRepository) sortedCredentials(userID string) []Credential {
	creds := append([]Credential(nil), r.credentials[userID]...)
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].CreatedAt.After(creds[j].CreatedAt)
	})
	return creds
}

func (r *MockRepository) SecurityState(_ context.Context, userID string) (*SecurityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	clone := *s
	return &clone, nil
}

func (r *MockRepository) securityLocked(userID string) *SecurityState {
	s, ok := r.security[userID]
	if !ok {
		s = &SecurityState{UserID: userID, CreatedAt: time.Now()}
		r.security[userID] = s
	}
	return s
}

func (r *MockRepository) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	s.FailedLoginAttempts++
	return s.FailedLoginAttempts, nil
}

func (r *MockRepository) SetLock(_ context.Context, userID string, until time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	s.LockedUntil = &until
	s.LockReason = &reason
	return nil
}

func (r *MockRepository) ClearLock(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	s.FailedLoginAttempts = 0
	s.LockedUntil = nil
	s.LockReason = nil
	return nil
}

func (r *MockRepository) RecordLoginSuccess(_ context.Context, userID, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	now := time.Now()
	s.FailedLoginAttempts = 0
	s.LockedUntil = nil
	s.LockReason = nil
	s.LastLoginAt = &now
	if ip != "" {
		s.LastLoginIP = &ip
	}
	if u, ok := r.users[userID]; ok {
		u.TotalLoginCount++
	}
	return nil
}

func (r *MockRepository) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool, secretID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	s.TwoFactorEnabled = enabled
	s.TwoFactorSecretID = secretID
	return nil
}

func (r *MockRepository) RecordPasswordChange(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.securityLocked(userID)
	s.LastPasswordChangeAt = &at
	return nil
}
