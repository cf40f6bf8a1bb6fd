package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.Account{},
		&models.PendingRegistration{},
		&models.RecoveryRequest{},
		&models.PasswordResetToken{},
		&models.Session{},
		&models.ClientApplication{},
		&models.ScopeDefinition{},
		&models.AuthorizationGrant{},
		&models.OAuthToken{},
		&models.OutboundMailMessage{},
		&models.AuditLog{},
		&models.SystemSetting{},
		&models.CacheEntry{},
	)
}

// StandardScopes are the OpenID Connect scopes every installation understands.
var StandardScopes = []models.ScopeDefinition{
	{Name: "openid", DisplayName: "OpenID", Description: "Sign you in"},
	{Name: "profile", DisplayName: "Profile", Description: "Your user name"},
	{Name: "email", DisplayName: "Email", Description: "Your email address"},
	{Name: "roles", DisplayName: "Roles", Description: "Your roles"},
	{Name: "offline_access", DisplayName: "Offline access", Description: "Keep access while you are away"},
}

// SeedData populates default roles and the standard scopes.
func SeedData(db *gorm.DB) error {
	roles := []models.Role{
		{
			Name:        models.RoleAdmin,
			Description: "Full system access",
			IsSystem:    true,
		},
		{
			Name:        models.RoleUser,
			Description: "Standard user access",
			IsSystem:    true,
		},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{Name: role.Name}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	for _, scope := range StandardScopes {
		if err := db.Where(models.ScopeDefinition{Name: scope.Name}).Attrs(scope).FirstOrCreate(&models.ScopeDefinition{}).Error; err != nil {
			return err
		}
	}

	return nil
}
