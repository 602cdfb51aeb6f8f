package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive              Status = "active"
	StatusInactive            Status = "inactive"
	StatusSuspended           Status = "suspended"
	StatusPendingVerification Status = "pending_verification"
)

type User struct {
	ID            string `gorm:"primaryKey;size:36"`
	FirstName     string `gorm:"size:100;not null"`
	LastName      string `gorm:"size:100;not null"`
	Email         string `gorm:"size:255;uniqueIndex;not null"`
	EmailVerified bool   `gorm:"not null;default:false"`
	EmailVerifiedAt *time.Time
	Status          Status `gorm:"size:30;not null;default:pending_verification"`
	TotalLoginCount int    `gorm:"not null;default:0"`

	DeletedAt         *time.Time `gorm:"index"`
	DeletedBy         *string    `gorm:"size:36"`
	DeactivatedReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

// Credential is one append-only password record. The newest record by
// creation time is authoritative; a password change inserts, never updates.
type Credential struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:36;index;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	ExpiresAt    *time.Time
	MustChange   bool `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

func (Credential) TableName() string {
	return "user_passwords"
}

func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the password itself has aged out. Only checked
// after the password matched, so expiry is never an enumeration signal.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// SecurityState is the one-to-one lockout record, created lazily on the
// first tracked login attempt.
type SecurityState struct {
	UserID              string `gorm:"primaryKey;size:36"`
	FailedLoginAttempts int    `gorm:"not null;default:0"`
	LockedUntil         *time.Time
	LockReason          *string `gorm:"size:255"`
	LastLoginAt         *time.Time
	LastLoginIP         *string `gorm:"size:45"`
	TwoFactorEnabled    bool    `gorm:"not null;default:false"`
	TwoFactorSecretID   *string `gorm:"size:36"`
	LastPasswordChangeAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SecurityState) TableName() string {
	return "user_security"
}

// Locked reports whether a lock is currently in force.
func (s *SecurityState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}
