package onetime

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResetToken is a single-use, time-boxed password-reset grant. The column
// holds only the hash of the issued secret.
type ResetToken struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;index;not null"`
	TokenHash string `gorm:"size:255;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
	IPAddress *string `gorm:"size:45"`
	UserAgent *string
	CreatedAt time.Time
}

func (ResetToken) TableName() string {
	return "password_reset_tokens"
}

func (t *ResetToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *ResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// VerificationToken proves control of an email address. It records the
// address it was issued for so a later address change cannot hijack it.
type VerificationToken struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"size:36;index;not null"`
	Email      string `gorm:"size:255;not null"`
	TokenHash  string `gorm:"size:255;uniqueIndex;not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

func (VerificationToken) TableName() string {
	return "email_verification_tokens"
}

func (t *VerificationToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *VerificationToken) Usable(now time.Time) bool {
	return t.VerifiedAt == nil && now.Before(t.ExpiresAt)
}
