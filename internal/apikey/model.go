package apikey

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Key is a long-lived machine credential. Only the hash of the secret
// part is stored; KeyPrefix is a display hint for key management UIs.
// Empty allowlists mean unrestricted.
type Key struct {
	ID               string `gorm:"primaryKey;size:36"`
	UserID           string `gorm:"size:36;index;not null"`
	Name             string `gorm:"size:255;not null"`
	KeyHash          string `gorm:"size:255;uniqueIndex;not null"`
	KeyPrefix        string `gorm:"size:8;not null"`
	Scopes           datatypes.JSONSlice[string] `gorm:"not null"`
	AllowedIPs       datatypes.JSONSlice[string]
	AllowedOrigins   datatypes.JSONSlice[string]
	RateLimitPerHour *int
	UsageCount       int `gorm:"not null;default:0"`
	LastUsedAt       *time.Time
	LastUsedIP       *string `gorm:"size:45"`
	ExpiresAt        *time.Time
	IsActive         bool `gorm:"not null;default:true"`
	RevokedAt        *time.Time
	RevokedBy        *string `gorm:"size:36"`
	RevokeReason     *string `gorm:"size:255"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Key) TableName() string {
	return "api_keys"
}

func (k *Key) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// HasScopes reports whether the key's grants cover every required scope.
func (k *Key) HasScopes(required []string) bool {
	granted := make(map[string]struct{}, len(k.Scopes))
	for _, s := range k.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// AllowsIP checks the client address against the allowlist. An empty
// list allows everything.
func (k *Key) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

func (k *Key) AllowsOrigin(origin string) bool {
	if len(k.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range k.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// RateLimited reports whether the hourly budget is spent. A nil limit
// means unthrottled.
func (k *Key) RateLimited() bool {
	return k.RateLimitPerHour != nil && k.UsageCount >= *k.RateLimitPerHour
}
