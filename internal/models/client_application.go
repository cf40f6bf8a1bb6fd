package models

import (
	"slices"

	"gorm.io/datatypes"
)

// Consent types decide when the authorization endpoint prompts the user.
const (
	ConsentExplicit   = "explicit"
	ConsentExternal   = "external"
	ConsentImplicit   = "implicit"
	ConsentSystematic = "systematic"
)

// Client types.
const (
	ClientConfidential = "confidential"
	ClientPublic       = "public"
)

// ClientApplication is a registered OAuth2/OIDC relying party.
type ClientApplication struct {
	BaseModel

	ClientID         string `gorm:"size:128;uniqueIndex;not null" json:"client_id"`
	ClientSecretHash string `json:"-"`
	DisplayName      string `json:"display_name"`
	ClientType       string `gorm:"size:32;not null" json:"client_type"`
	ConsentType      string `gorm:"size:32;not null" json:"consent_type"`

	RedirectURIs           datatypes.JSONSlice[string] `json:"redirect_uris"`
	PostLogoutRedirectURIs datatypes.JSONSlice[string] `json:"post_logout_redirect_uris"`
	Scopes                 datatypes.JSONSlice[string] `json:"scopes"`
}

// IsPublic reports whether the client cannot keep a secret.
func (c *ClientApplication) IsPublic() bool {
	return c.ClientType == ClientPublic
}

// HasRedirectURI reports an exact match against the registered redirect URIs.
func (c *ClientApplication) HasRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// HasPostLogoutRedirectURI reports an exact match against the registered post-logout URIs.
func (c *ClientApplication) HasPostLogoutRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// AllowsScope reports whether the client may request scope. An empty list allows all.
func (c *ClientApplication) AllowsScope(scope string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scope)
}
