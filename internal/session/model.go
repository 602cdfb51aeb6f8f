package session

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceAPI     DeviceType = "api"
)

// DeviceInfo is the client metadata recorded at login.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	DeviceType DeviceType
	UserAgent  string
	IPAddress  string
}

// Session is one authenticated device or browser. Only token hashes are
// stored; the raw secrets travel back to the client once.
type Session struct {
	ID               string `gorm:"primaryKey;size:36"`
	UserID           string `gorm:"size:36;index;not null"`
	TokenHash        string `gorm:"size:255;uniqueIndex;not null"`
	RefreshTokenHash string `gorm:"size:255;index"`

	DeviceID   *string    `gorm:"size:255"`
	DeviceName *string    `gorm:"size:255"`
	DeviceType DeviceType `gorm:"size:20;not null;default:web"`
	UserAgent  *string
	IPAddress  *string `gorm:"size:45"`

	ExpiresAt         time.Time `gorm:"index;not null"`
	RefreshExpiresAt  *time.Time
	IdleTimeoutAt     *time.Time
	AbsoluteTimeoutAt *time.Time
	LastActivityAt    *time.Time

	IsMfaVerified bool `gorm:"not null;default:false"`

	RevokedAt    *time.Time
	RevokedBy    *string `gorm:"size:36"`
	RevokeReason *string `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsActive holds the session-liveness invariant: not revoked and not past
// its access expiry.
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// IdleExpired reports whether the idle timeout has elapsed.
func (s *Session) IdleExpired(now time.Time) bool {
	return s.IdleTimeoutAt != nil && now.After(*s.IdleTimeoutAt)
}

// AbsoluteExpired reports whether the hard lifetime ceiling has passed.
func (s *Session) AbsoluteExpired(now time.Time) bool {
	return s.AbsoluteTimeoutAt != nil && now.After(*s.AbsoluteTimeoutAt)
}

// RefreshExpired reports whether the refresh window has closed.
func (s *Session) RefreshExpired(now time.Time) bool {
	return s.RefreshExpiresAt == nil || now.After(*s.RefreshExpiresAt)
}

// TokenPair is what the client receives at login and on each refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
}
