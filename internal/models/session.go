package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is an interactive browser sign-in. AuthenticatedAt drives max_age checks.
type Session struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID       string     `gorm:"type:uuid;not null;index" json:"account_id"`
	IPAddress       string     `json:"ip_address"`
	UserAgent       string     `json:"user_agent"`
	AuthenticatedAt time.Time  `json:"authenticated_at"`
	ExpiresAt       time.Time  `gorm:"index" json:"expires_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at"`
	RevokedAt       *time.Time `json:"revoked_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && s.ExpiresAt.After(now)
}
