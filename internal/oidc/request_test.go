package oidc

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/models"
)

func TestParseAuthorizationRequest(t *testing.T) {
	req, err := ParseAuthorizationRequest(url.Values{
		"client_id":      {"web"},
		"scope":          {"openid  profile openid"},
		"prompt":         {"login consent"},
		"max_age":        {"60"},
		"code_challenge": {"abc"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"openid", "profile"}, req.Scopes)
	require.True(t, req.HasPrompt(PromptConsent))
	require.EqualValues(t, 60, *req.MaxAge)
	require.Equal(t, ChallengeMethodPlain, req.CodeChallengeMethod)
}

func TestParseAuthorizationRequestRejectsInvalidInput(t *testing.T) {
	_, err := ParseAuthorizationRequest(url.Values{})
	require.True(t, IsCode(err, ErrorInvalidRequest))

	_, err = ParseAuthorizationRequest(url.Values{"client_id": {"web"}, "max_age": {"soon"}})
	require.True(t, IsCode(err, ErrorInvalidRequest))

	_, err = ParseAuthorizationRequest(url.Values{"client_id": {"web"}, "prompt": {"none login"}})
	require.True(t, IsCode(err, ErrorInvalidRequest))
}

func TestChallengeValuesDropLoginPrompt(t *testing.T) {
	req, err := ParseAuthorizationRequest(url.Values{"client_id": {"web"}, "prompt": {"login"}, "state": {"s"}})
	require.NoError(t, err)

	values := req.ChallengeValues()
	require.Empty(t, values.Get("prompt"))
	require.Equal(t, "s", values.Get("state"))
	require.Equal(t, "login", req.Values().Get("prompt"))
}

func TestVerifyPKCE(t *testing.T) {
	pair, err := GeneratePKCE()
	require.NoError(t, err)

	require.True(t, verifyPKCE(pair.Challenge, ChallengeMethodS256, pair.Verifier))
	require.False(t, verifyPKCE(pair.Challenge, ChallengeMethodS256, pair.Challenge))
	require.True(t, verifyPKCE(pair.Verifier, ChallengeMethodPlain, pair.Verifier))
	require.False(t, verifyPKCE(pair.Challenge, ChallengeMethodS256, "short"))
	require.True(t, verifyPKCE("", "", ""))
	require.False(t, verifyPKCE("", "", pair.Verifier))
}

func TestDestinations(t *testing.T) {
	require.Equal(t, DestinationAccessToken, Destinations(ClaimEmail, []string{"openid"}))
	require.Equal(t, DestinationAccessToken|DestinationIdentityToken, Destinations(ClaimEmail, []string{"openid", "email"}))
	require.Equal(t, DestinationAccessToken|DestinationIdentityToken, Destinations(ClaimName, []string{"profile"}))
	require.Equal(t, DestinationAccessToken, Destinations(ClaimRole, []string{"profile"}))
	require.True(t, Destinations(ClaimRole, []string{"roles"}).Has(DestinationIdentityToken))
	require.Equal(t, Destination(0), Destinations(ClaimSecurityStamp, []string{"openid", "profile", "email", "roles"}))
	require.True(t, Destinations(ClaimSubject, nil).Has(DestinationIdentityToken))
	require.Equal(t, DestinationAccessToken, Destinations("custom", []string{"openid", "profile"}))
}

func TestClaimRoutesCoverIdentityClaims(t *testing.T) {
	account := &models.Account{Roles: []models.Role{{Name: "admin"}}}
	for _, claim := range IdentityClaims(account) {
		route, ok := claimRoutes[claim.Type]
		require.True(t, ok, claim.Type)

		without := Destinations(claim.Type, nil)
		require.Equal(t, route.base, without, claim.Type)
		if route.scope != "" {
			require.False(t, without.Has(DestinationIdentityToken), claim.Type)
			require.True(t, Destinations(claim.Type, []string{route.scope}).Has(DestinationIdentityToken), claim.Type)
		}
	}
}
