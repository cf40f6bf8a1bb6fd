package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	"github.com/charlesng35/idcore/pkg/metrics"
)

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenRequest is a parsed token endpoint request. Client credentials come
// from HTTP basic authentication or the form body.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the successful token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Exchange redeems an authorization code or refresh token. Claims are rebuilt
// from the current account state; a deleted, locked or re-keyed account gets invalid_grant.
func (e *Engine) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := e.exchange(ctx, req)

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.TokensIssued.WithLabelValues(grantTypeLabel(req.GrantType), result).Inc()
	return resp, err
}

func (e *Engine) exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var tokenType, value string
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		tokenType, value = models.TokenAuthorizationCode, req.Code
		if value == "" {
			return nil, newError(ErrorInvalidRequest, "The mandatory 'code' parameter is missing.")
		}
	case GrantTypeRefreshToken:
		tokenType, value = models.TokenRefresh, req.RefreshToken
		if value == "" {
			return nil, newError(ErrorInvalidRequest, "The mandatory 'refresh_token' parameter is missing.")
		}
	default:
		return nil, newError(ErrorUnsupportedGrantType, "The specified 'grant_type' is not supported.")
	}

	app, err := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	carrier, err := e.redeem(ctx, app, tokenType, value, func(token *models.OAuthToken) error {
		if tokenType != models.TokenAuthorizationCode {
			return nil
		}
		if req.RedirectURI != token.RedirectURI {
			return newError(ErrorInvalidGrant, "The specified 'redirect_uri' does not match the authorization request.")
		}
		if !verifyPKCE(token.CodeChallenge, token.CodeChallengeMethod, req.CodeVerifier) {
			return newError(ErrorInvalidGrant, "The specified 'code_verifier' is invalid.")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	scopes := []string(carrier.Scopes)
	if tokenType == models.TokenRefresh {
		if requested := splitSpaces(req.Scope); len(requested) > 0 {
			for _, scope := range requested {
				if !slices.Contains(scopes, scope) {
					return nil, newError(ErrorInvalidScope, "The requested scope exceeds the original grant.")
				}
			}
			scopes = requested
		}
	}

	if err := e.ensureAuthorizationValid(ctx, carrier.AuthorizationID); err != nil {
		return nil, err
	}

	account, err := e.accounts.FindAccountByID(ctx, carrier.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrorInvalidGrant, "The token is no longer valid.")
	}
	if err != nil {
		return nil, fmt.Errorf("oidc: load account: %w", err)
	}
	if !account.CanSignIn(e.now()) {
		return nil, newError(ErrorInvalidGrant, "The user is no longer allowed to sign in.")
	}
	if carrier.SecurityStamp != "" && carrier.SecurityStamp != account.SecurityStamp {
		return nil, newError(ErrorInvalidGrant, "The token is no longer valid.")
	}

	nonce := ""
	if tokenType == models.TokenAuthorizationCode {
		nonce = carrier.Nonce
	}
	return e.issueTokens(ctx, app, account, carrier, scopes, nonce)
}

func (e *Engine) authenticateClient(ctx context.Context, clientID, secret string) (*models.ClientApplication, error) {
	app, err := e.FindApplication(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, newError(ErrorInvalidClient, "The specified 'client_id' is invalid.")
	}
	if app.IsPublic() {
		if secret != "" {
			return nil, newError(ErrorInvalidClient, "Public clients must not send a client secret.")
		}
		return app, nil
	}
	if secret == "" || !crypto.VerifyPassword(app.ClientSecretHash, secret) {
		return nil, newError(ErrorInvalidClient, "The specified client credentials are invalid.")
	}
	return app, nil
}

// redeem consumes a code or refresh token. Presenting an already redeemed
// token revokes everything issued from the same authorization.
func (e *Engine) redeem(ctx context.Context, app *models.ClientApplication, tokenType, value string, check func(*models.OAuthToken) error) (*models.OAuthToken, error) {
	now := e.now()
	invalid := newError(ErrorInvalidGrant, "The specified token is invalid.")

	var token models.OAuthToken
	replayed := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&token, "reference_hash = ?", crypto.HashToken(value)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid
		}
		if err != nil {
			return err
		}

		switch {
		case token.Type != tokenType:
			return invalid
		case token.ApplicationID != app.ID:
			return newError(ErrorInvalidGrant, "The specified token was issued to a different client.")
		case token.Status == models.TokenStatusRedeemed:
			replayed = true
			return newError(ErrorInvalidGrant, "The specified token has already been redeemed.")
		case token.Status != models.TokenStatusValid:
			return invalid
		case !token.ExpiresAt.After(now):
			return newError(ErrorInvalidGrant, "The specified token has expired.")
		}
		if err := check(&token); err != nil {
			return err
		}

		result := tx.Model(&models.OAuthToken{}).
			Where("id = ? AND status = ?", token.ID, models.TokenStatusValid).
			Updates(map[string]any{"status": models.TokenStatusRedeemed, "redeemed_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return invalid
		}
		return nil
	})

	if replayed {
		e.log.Warn("token replay detected, revoking authorization",
			zap.String("authorization_id", token.AuthorizationID),
			zap.String("client_id", app.ClientID),
		)
		if revokeErr := e.RevokeAuthorization(ctx, token.AuthorizationID); revokeErr != nil {
			e.log.Error("failed to revoke replayed authorization", zap.Error(revokeErr))
		}
	}

	if err != nil {
		var protocolErr *Error
		if errors.As(err, &protocolErr) {
			return nil, protocolErr
		}
		return nil, fmt.Errorf("oidc: redeem token: %w", err)
	}
	return &token, nil
}

func (e *Engine) ensureAuthorizationValid(ctx context.Context, authorizationID string) error {
	var grant models.AuthorizationGrant
	err := e.db.WithContext(ctx).Take(&grant, "id = ?", authorizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && grant.Status != models.GrantValid) {
		return newError(ErrorInvalidGrant, "The authorization associated with the token is no longer valid.")
	}
	if err != nil {
		return fmt.Errorf("oidc: load authorization: %w", err)
	}
	return nil
}

func (e *Engine) issueTokens(ctx context.Context, app *models.ClientApplication, account *models.Account, carrier *models.OAuthToken, scopes []string, nonce string) (*TokenResponse, error) {
	now := e.now()
	claims := IdentityClaims(account)

	audiences, err := e.resources(ctx, scopes)
	if err != nil {
		return nil, err
	}
	if len(audiences) == 0 {
		audiences = []string{app.ClientID}
	}

	access := jwt.MapClaims{
		"iss":              e.cfg.Issuer,
		"aud":              audiences,
		"iat":              now.Unix(),
		"nbf":              now.Unix(),
		"exp":              now.Add(e.cfg.AccessTokenTTL).Unix(),
		"jti":              uuid.NewString(),
		"scope":            strings.Join(scopes, " "),
		"client_id":        app.ClientID,
		"authorization_id": carrier.AuthorizationID,
	}
	project(access, claims, scopes, DestinationAccessToken)
	accessToken, err := e.signer.Sign(access)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(e.cfg.AccessTokenTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if slices.Contains(scopes, ScopeOpenID) {
		identity := jwt.MapClaims{
			"iss":       e.cfg.Issuer,
			"aud":       app.ClientID,
			"azp":       app.ClientID,
			"iat":       now.Unix(),
			"exp":       now.Add(e.cfg.IdentityTokenTTL).Unix(),
			"auth_time": carrier.AuthTime.Unix(),
		}
		if nonce != "" {
			identity["nonce"] = nonce
		}
		project(identity, claims, scopes, DestinationIdentityToken)
		if resp.IDToken, err = e.signer.Sign(identity); err != nil {
			return nil, err
		}
	}

	if slices.Contains(scopes, ScopeOfflineAccess) {
		value, err := crypto.GenerateToken(32)
		if err != nil {
			return nil, fmt.Errorf("oidc: generate refresh token: %w", err)
		}
		refresh := models.OAuthToken{
			Type:            models.TokenRefresh,
			ReferenceHash:   crypto.HashToken(value),
			AuthorizationID: carrier.AuthorizationID,
			ApplicationID:   app.ID,
			Subject:         account.ID,
			Scopes:          append([]string(nil), scopes...),
			AuthTime:        carrier.AuthTime,
			SecurityStamp:   account.SecurityStamp,
			Status:          models.TokenStatusValid,
			ExpiresAt:       now.Add(e.cfg.RefreshTokenTTL),
		}
		if err := e.db.WithContext(ctx).Create(&refresh).Error; err != nil {
			return nil, fmt.Errorf("oidc: store refresh token: %w", err)
		}
		resp.RefreshToken = value
	}

	return resp, nil
}

// UserInfo validates a bearer access token and returns the claims allowed by its scopes.
func (e *Engine) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	invalid := newError(ErrorInvalidToken, "The specified access token is invalid.")
	if accessToken == "" {
		return nil, invalid
	}

	claims := jwt.MapClaims{}
	err := e.signer.Parse(accessToken, claims,
		jwt.WithIssuer(e.cfg.Issuer),
		jwt.WithTimeFunc(e.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, invalid
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, invalid
	}
	scope, _ := claims["scope"].(string)
	scopes := splitSpaces(scope)
	if !slices.Contains(scopes, ScopeOpenID) {
		return nil, &Error{Code: ErrorInsufficientScope, Description: "The 'openid' scope is required.", Status: http.StatusForbidden}
	}

	account, err := e.accounts.FindAccountByID(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("oidc: load account: %w", err)
	}
	return UserInfoClaims(account, scopes), nil
}

func grantTypeLabel(grantType string) string {
	switch grantType {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken:
		return grantType
	default:
		return "unsupported"
	}
}

// PurgeExpired deletes codes and refresh tokens past their expiry. Redeemed
// codes stay until then so replays are still detected.
func (e *Engine) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := e.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.OAuthToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("oidc: purge tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
