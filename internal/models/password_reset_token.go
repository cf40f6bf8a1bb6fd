package models

import "time"

// PasswordResetToken is the single-use credential handed out after a
// recovery code was verified. Only the hash of the token is stored.
type PasswordResetToken struct {
	BaseModel

	AccountID     string     `gorm:"type:uuid;not null;index" json:"account_id"`
	TokenHash     string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	SecurityStamp string     `gorm:"size:64;not null" json:"-"`
	ExpiresAt     time.Time  `gorm:"index" json:"expires_at"`
	UsedAt        *time.Time `json:"used_at"`
}
