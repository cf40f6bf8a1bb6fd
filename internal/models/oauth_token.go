package models

import (
	"time"

	"gorm.io/datatypes"
)

// Token kinds persisted by the authorization server.
const (
	TokenAuthorizationCode = "authorization_code"
	TokenRefresh           = "refresh_token"

	TokenStatusValid    = "valid"
	TokenStatusRedeemed = "redeemed"
	TokenStatusRevoked  = "revoked"
)

// OAuthToken persists single-use authorization codes and rotating refresh
// tokens. The opaque value handed to the client is only stored hashed.
type OAuthToken struct {
	BaseModel

	Type            string `gorm:"size:32;not null;index" json:"type"`
	ReferenceHash   string `gorm:"size:64;uniqueIndex;not null" json:"-"`
	AuthorizationID string `gorm:"type:uuid;not null;index" json:"authorization_id"`
	ApplicationID   string `gorm:"type:uuid;not null;index" json:"application_id"`
	Subject         string `gorm:"type:uuid;not null;index" json:"subject"`

	Scopes              datatypes.JSONSlice[string] `json:"scopes"`
	RedirectURI         string                      `json:"redirect_uri,omitempty"`
	CodeChallenge       string                      `json:"-"`
	CodeChallengeMethod string                      `gorm:"size:16" json:"-"`
	Nonce               string                      `json:"-"`
	AuthTime            time.Time                   `json:"auth_time"`
	SecurityStamp       string                      `gorm:"size:64" json:"-"`

	Status     string     `gorm:"size:16;not null;index" json:"status"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}
