package models

import "time"

// SystemSetting persists installation-wide values that must survive restarts,
// such as the encrypted token signing key.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
