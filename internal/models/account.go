package models

import (
	"strings"
	"time"
)

// LockoutForever is stored as lockout end for accounts that must never sign in
// until an explicit state change, such as shadow accounts awaiting confirmation.
var LockoutForever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Account is a durable identity. Shadow accounts created during registration
// carry placeholder identifiers and stay locked until promotion.
type Account struct {
	BaseModel

	Username           string `gorm:"size:256;not null" json:"username"`
	NormalizedUsername string `gorm:"size:256;uniqueIndex;not null" json:"-"`
	Email              string `gorm:"size:256;not null" json:"email"`
	NormalizedEmail    string `gorm:"size:256;uniqueIndex;not null" json:"-"`
	PasswordHash       string `gorm:"not null" json:"-"`
	EmailConfirmed     bool   `gorm:"default:false;index" json:"email_confirmed"`

	LockoutEnabled    bool       `gorm:"default:true" json:"-"`
	LockoutEnd        *time.Time `json:"-"`
	AccessFailedCount int        `gorm:"default:0" json:"-"`

	// SecurityStamp changes whenever credentials change.
	SecurityStamp string `gorm:"size:64;not null" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"-"`

	Roles []Role `gorm:"many2many:account_roles;" json:"roles,omitempty"`
}

// IsLockedOut reports whether lockout is active at now.
func (a *Account) IsLockedOut(now time.Time) bool {
	return a.LockoutEnabled && a.LockoutEnd != nil && a.LockoutEnd.After(now)
}

// CanSignIn reports whether the account may authenticate interactively or
// receive tokens.
func (a *Account) CanSignIn(now time.Time) bool {
	return a != nil && a.EmailConfirmed && !a.IsLockedOut(now)
}

// RoleNames lists the names of the loaded roles.
func (a *Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		names = append(names, role.Name)
	}
	return names
}

// Normalize folds usernames and emails for case-insensitive lookups.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
