package oidc

import (
	"slices"

	"github.com/charlesng35/idcore/internal/models"
)

// Standard scopes.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeRoles         = "roles"
	ScopeOfflineAccess = "offline_access"
)

// Claim types built from an account.
const (
	ClaimSubject           = "sub"
	ClaimName              = "name"
	ClaimPreferredUsername = "preferred_username"
	ClaimEmail             = "email"
	ClaimEmailVerified     = "email_verified"
	ClaimRole              = "role"
	ClaimSecurityStamp     = "security_stamp"
)

// Destination is a bit set of the tokens a claim is copied into.
type Destination uint8

const (
	DestinationAccessToken Destination = 1 << iota
	DestinationIdentityToken
)

// Has reports whether d includes target.
func (d Destination) Has(target Destination) bool {
	return d&target != 0
}

// Claim is a single identity assertion.
type Claim struct {
	Type  string
	Value any
}

// IdentityClaims builds the claim set from the current account state.
func IdentityClaims(account *models.Account) []Claim {
	claims := []Claim{
		{Type: ClaimSubject, Value: account.ID},
		{Type: ClaimName, Value: account.Username},
		{Type: ClaimPreferredUsername, Value: account.Username},
		{Type: ClaimEmail, Value: account.Email},
		{Type: ClaimSecurityStamp, Value: account.SecurityStamp},
	}
	if roles := account.RoleNames(); len(roles) > 0 {
		claims = append(claims, Claim{Type: ClaimRole, Value: roles})
	}
	return claims
}

// claimRoute routes a claim to base unconditionally and adds the identity
// token when scope was granted. An empty scope adds nothing.
type claimRoute struct {
	scope string
	base  Destination
}

var claimRoutes = map[string]claimRoute{
	ClaimSubject:           {base: DestinationAccessToken | DestinationIdentityToken},
	ClaimName:              {scope: ScopeProfile, base: DestinationAccessToken},
	ClaimPreferredUsername: {scope: ScopeProfile, base: DestinationAccessToken},
	ClaimEmail:             {scope: ScopeEmail, base: DestinationAccessToken},
	ClaimRole:              {scope: ScopeRoles, base: DestinationAccessToken},
	ClaimSecurityStamp:     {},
}

// Destinations decides which tokens receive a claim given the granted scopes.
// Claims missing from the routing table reach the access token only.
func Destinations(claimType string, scopes []string) Destination {
	route, ok := claimRoutes[claimType]
	if !ok {
		return DestinationAccessToken
	}
	if route.scope != "" && slices.Contains(scopes, route.scope) {
		return route.base | DestinationIdentityToken
	}
	return route.base
}

// project copies the claims routed to target into out.
func project(out map[string]any, claims []Claim, scopes []string, target Destination) {
	for _, claim := range claims {
		if Destinations(claim.Type, scopes).Has(target) {
			out[claim.Type] = claim.Value
		}
	}
}

// UserInfoClaims returns the userinfo response for an account and granted scopes.
func UserInfoClaims(account *models.Account, scopes []string) map[string]any {
	out := map[string]any{ClaimSubject: account.ID}
	if slices.Contains(scopes, ScopeProfile) {
		out[ClaimName] = account.Username
		out[ClaimPreferredUsername] = account.Username
	}
	if slices.Contains(scopes, ScopeEmail) {
		out[ClaimEmail] = account.Email
		out[ClaimEmailVerified] = account.EmailConfirmed
	}
	if slices.Contains(scopes, ScopeRoles) {
		out[ClaimRole] = account.RoleNames()
	}
	return out
}
