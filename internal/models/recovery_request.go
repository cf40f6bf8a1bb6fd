package models

import "time"

// RecoveryRequest tracks password recovery per normalized email, independent
// of whether an account exists for it. A nil Code means no recovery is in flight;
// LastSentAt persists to anchor the resend cooldown.
type RecoveryRequest struct {
	Email         string     `gorm:"primaryKey;size:256"`
	LastSentAt    time.Time  `gorm:"index"`
	Code          *string    `gorm:"size:16"`
	CodeExpiresAt *time.Time `gorm:"index"`
	Attempts      int        `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether a code is currently outstanding.
func (r *RecoveryRequest) Active() bool {
	return r != nil && r.Code != nil && *r.Code != ""
}
