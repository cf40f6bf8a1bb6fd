package models

import (
	"slices"

	"gorm.io/datatypes"
)

// Grant types and statuses.
const (
	GrantPermanent = "permanent"
	GrantAdHoc     = "ad-hoc"

	GrantValid   = "valid"
	GrantRevoked = "revoked"
)

// AuthorizationGrant records a subject's consent to a client for a set of scopes.
type AuthorizationGrant struct {
	BaseModel

	Subject       string             `gorm:"type:uuid;not null;index:idx_grant_lookup" json:"subject"`
	ApplicationID string             `gorm:"type:uuid;not null;index:idx_grant_lookup" json:"application_id"`
	Application   *ClientApplication `gorm:"foreignKey:ApplicationID" json:"application,omitempty"`
	Type          string             `gorm:"size:16;not null;index:idx_grant_lookup" json:"type"`
	Status        string             `gorm:"size:16;not null;index:idx_grant_lookup" json:"status"`

	Scopes     datatypes.JSONSlice[string] `json:"scopes"`
	Properties datatypes.JSONMap           `json:"properties,omitempty"`
}

// CoversScopes reports whether every requested scope is part of the grant.
func (g *AuthorizationGrant) CoversScopes(requested []string) bool {
	for _, scope := range requested {
		if !slices.Contains(g.Scopes, scope) {
			return false
		}
	}
	return true
}
