package models

import "time"

// Outbound mail states.
const (
	MailPending = "pending"
	MailSending = "sending"
	MailDead    = "dead"
)

// OutboundMailMessage is a durable queue entry. Delivered messages are deleted.
type OutboundMailMessage struct {
	BaseModel

	Recipient     string     `gorm:"size:256;not null" json:"recipient"`
	Subject       string     `gorm:"size:512;not null" json:"subject"`
	Body          string     `gorm:"type:text;not null" json:"-"`
	Status        string     `gorm:"size:16;not null;index:idx_mail_due" json:"status"`
	RetryCount    int        `gorm:"default:0" json:"retry_count"`
	NextAttemptAt time.Time  `gorm:"index:idx_mail_due" json:"next_attempt_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}
