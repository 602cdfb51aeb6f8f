package twofactor

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Secret is a user's TOTP enrollment. The row starts pending and becomes
// enabled only after the user proves they can produce a valid code.
// BackupCodes holds bcrypt hashes of the single-use recovery codes;
// consuming a code removes its hash from the slice.
type Secret struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"size:36;uniqueIndex;not null"`
	Secret      string `gorm:"not null"`
	BackupCodes datatypes.JSONSlice[string] `gorm:"not null"`
	Enabled     bool   `gorm:"not null;default:false"`
	EnabledAt   *time.Time
	VerifiedAt  *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Secret) TableName() string {
	return "two_factor_secrets"
}

func (s *Secret) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Enrollment carries the material a user needs to finish setup. The
// plaintext secret and QR image exist only in this value.
type Enrollment struct {
	Secret     string
	OTPAuthURL string
	QRCodePNG  []byte
}
