package models

import "time"

// PendingRegistration links a shadow account to the identity the user asked
// for. It exists only while that account is unconfirmed.
type PendingRegistration struct {
	BaseModel

	Username           string `gorm:"size:256;not null" json:"username"`
	NormalizedUsername string `gorm:"size:256;index;not null" json:"-"`
	Email              string `gorm:"size:256;not null" json:"email"`
	NormalizedEmail    string `gorm:"size:256;index;not null" json:"-"`

	AccountID string `gorm:"type:uuid;uniqueIndex;not null" json:"account_id"`

	Code         *string   `gorm:"size:16" json:"-"`
	CodeIssuedAt time.Time `gorm:"index" json:"code_issued_at"`
	Attempts     int       `gorm:"default:0" json:"attempts"`
	Blocked      bool      `gorm:"default:false" json:"blocked"`
}
