package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/pkg/crypto"
)

// ClientSeed describes a client application provisioned at start-up.
type ClientSeed struct {
	ClientID               string   `mapstructure:"client_id"`
	ClientSecret           string   `mapstructure:"client_secret"`
	DisplayName            string   `mapstructure:"display_name"`
	ClientType             string   `mapstructure:"client_type"`
	ConsentType            string   `mapstructure:"consent_type"`
	RedirectURIs           []string `mapstructure:"redirect_uris"`
	PostLogoutRedirectURIs []string `mapstructure:"post_logout_redirect_uris"`
	Scopes                 []string `mapstructure:"scopes"`
}

// ScopeSeed describes an API scope and the resources it grants access to.
type ScopeSeed struct {
	Name        string   `mapstructure:"name"`
	DisplayName string   `mapstructure:"display_name"`
	Description string   `mapstructure:"description"`
	Resources   []string `mapstructure:"resources"`
}

// SeedClients creates or updates the configured client applications.
func SeedClients(ctx context.Context, db *gorm.DB, seeds []ClientSeed) error {
	for _, seed := range seeds {
		app, err := clientFromSeed(seed)
		if err != nil {
			return err
		}

		var existing models.ClientApplication
		err = db.WithContext(ctx).Take(&existing, "client_id = ?", app.ClientID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.WithContext(ctx).Create(app).Error; err != nil {
				return fmt.Errorf("oidc: create client %q: %w", app.ClientID, err)
			}
		case err != nil:
			return fmt.Errorf("oidc: load client %q: %w", app.ClientID, err)
		default:
			fields := []string{"DisplayName", "ClientType", "ConsentType", "RedirectURIs", "PostLogoutRedirectURIs", "Scopes"}
			if app.ClientSecretHash != "" && !crypto.VerifyPassword(existing.ClientSecretHash, seed.ClientSecret) {
				fields = append(fields, "ClientSecretHash")
			}
			if err := db.WithContext(ctx).Model(&existing).Select(fields).Updates(app).Error; err != nil {
				return fmt.Errorf("oidc: update client %q: %w", app.ClientID, err)
			}
		}
	}
	return nil
}

// SeedScopes creates or updates the configured scope definitions.
func SeedScopes(ctx context.Context, db *gorm.DB, seeds []ScopeSeed) error {
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return errors.New("oidc: scope name is required")
		}
		scope := models.ScopeDefinition{
			Name:        name,
			DisplayName: seed.DisplayName,
			Description: seed.Description,
			Resources:   append([]string(nil), seed.Resources...),
		}
		err := db.WithContext(ctx).
			Where(models.ScopeDefinition{Name: name}).
			Assign(models.ScopeDefinition{DisplayName: scope.DisplayName, Description: scope.Description, Resources: scope.Resources}).
			FirstOrCreate(&scope).Error
		if err != nil {
			return fmt.Errorf("oidc: seed scope %q: %w", name, err)
		}
	}
	return nil
}

func clientFromSeed(seed ClientSeed) (*models.ClientApplication, error) {
	clientID := strings.TrimSpace(seed.ClientID)
	if clientID == "" {
		return nil, errors.New("oidc: client_id is required")
	}
	if len(seed.RedirectURIs) == 0 {
		return nil, fmt.Errorf("oidc: client %q needs at least one redirect uri", clientID)
	}

	clientType := strings.ToLower(strings.TrimSpace(seed.ClientType))
	if clientType == "" {
		clientType = models.ClientConfidential
	}
	if clientType != models.ClientConfidential && clientType != models.ClientPublic {
		return nil, fmt.Errorf("oidc: client %q has unknown type %q", clientID, seed.ClientType)
	}

	consentType := strings.ToLower(strings.TrimSpace(seed.ConsentType))
	switch consentType {
	case "":
		consentType = models.ConsentExplicit
	case models.ConsentExplicit, models.ConsentExternal, models.ConsentImplicit, models.ConsentSystematic:
	default:
		return nil, fmt.Errorf("oidc: client %q has unknown consent type %q", clientID, seed.ConsentType)
	}

	app := &models.ClientApplication{
		ClientID:               clientID,
		DisplayName:            seed.DisplayName,
		ClientType:             clientType,
		ConsentType:            consentType,
		RedirectURIs:           append([]string(nil), seed.RedirectURIs...),
		PostLogoutRedirectURIs: append([]string(nil), seed.PostLogoutRedirectURIs...),
		Scopes:                 append([]string(nil), seed.Scopes...),
	}

	if clientType == models.ClientConfidential {
		if seed.ClientSecret == "" {
			return nil, fmt.Errorf("oidc: confidential client %q needs a secret", clientID)
		}
		hash, err := crypto.HashPassword(seed.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("oidc: hash client secret: %w", err)
		}
		app.ClientSecretHash = hash
	}
	return app, nil
}
