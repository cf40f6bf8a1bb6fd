package models

// Built-in roles seeded at start-up.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	Accounts []Account `gorm:"many2many:account_roles;" json:"-"`
}
