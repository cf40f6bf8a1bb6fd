package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charlesng35/idcore/internal/models"
)

// Endpoint paths relative to the issuer.
const (
	PathAuthorize = "/connect/authorize"
	PathToken     = "/connect/token"
	PathUserInfo  = "/connect/userinfo"
	PathLogout    = "/connect/logout"
	PathJWKS      = "/.well-known/jwks"
	PathDiscovery = "/.well-known/openid-configuration"
)

// Discovery builds the provider metadata document.
func (e *Engine) Discovery(ctx context.Context) (map[string]any, error) {
	var scopes []string
	if err := e.db.WithContext(ctx).Model(&models.ScopeDefinition{}).Order("name").Pluck("name", &scopes).Error; err != nil {
		return nil, fmt.Errorf("oidc: list scopes: %w", err)
	}

	issuer := e.cfg.Issuer
	return map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + PathAuthorize,
		"token_endpoint":                        issuer + PathToken,
		"userinfo_endpoint":                     issuer + PathUserInfo,
		"end_session_endpoint":                  issuer + PathLogout,
		"jwks_uri":                              issuer + PathJWKS,
		"scopes_supported":                      scopes,
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query"},
		"grant_types_supported":                 []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{jwt.SigningMethodRS256.Alg()},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"code_challenge_methods_supported":      []string{ChallengeMethodPlain, ChallengeMethodS256},
		"prompt_values_supported":               []string{PromptNone, PromptLogin, PromptConsent},
		"claims_supported": []string{
			ClaimSubject, ClaimName, ClaimPreferredUsername, ClaimEmail, ClaimEmailVerified, ClaimRole,
			"iss", "aud", "exp", "iat", "auth_time", "nonce", "azp",
		},
		"authorization_response_iss_parameter_supported": true,
	}, nil
}

// EndSession resolves where to send the browser after sign-out. An empty
// result means no client redirect was requested.
func (e *Engine) EndSession(ctx context.Context, values url.Values) (string, error) {
	target := values.Get("post_logout_redirect_uri")
	if target == "" {
		return "", nil
	}

	clientID := values.Get("client_id")
	if clientID == "" {
		if hint := values.Get("id_token_hint"); hint != "" {
			claims := jwt.MapClaims{}
			if err := e.signer.Parse(hint, claims, jwt.WithoutClaimsValidation()); err != nil {
				return "", newError(ErrorInvalidRequest, "The specified 'id_token_hint' is invalid.")
			}
			if audience, err := claims.GetAudience(); err == nil && len(audience) > 0 {
				clientID = audience[0]
			}
		}
	}

	app, err := e.FindApplication(ctx, clientID)
	if err != nil {
		return "", err
	}
	if app == nil || !app.HasPostLogoutRedirectURI(target) {
		return "", newError(ErrorInvalidRequest, "The specified 'post_logout_redirect_uri' is invalid.")
	}

	if state := values.Get("state"); state != "" {
		target = appendQuery(target, url.Values{"state": {state}})
	}
	return target, nil
}
