package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestSignAndValidate(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret: "super-secret",
		Issuer: "idcore",
		TTL:    time.Hour,
		Clock:  now,
	})
	require.NoError(t, err)

	token, err := svc.Sign("account-123", "session-456")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "account-123", claims.AccountID)
	require.Equal(t, "session-456", claims.SessionID)
	require.Equal(t, "idcore", claims.Issuer)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestSignRequiresIdentifiers(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)

	_, err = svc.Sign("", "session")
	require.Error(t, err)
	_, err = svc.Sign("account", "")
	require.Error(t, err)
}

func TestValidateInvalidSignature(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", TTL: time.Minute, Clock: now})
	require.NoError(t, err)

	token, err := issuer.Sign("account-123", "session-1")
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "other-secret", TTL: time.Minute, Clock: now})
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestValidateExpired(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{Secret: "secret", TTL: time.Minute, Clock: func() time.Time { return current }})
	require.NoError(t, err)

	token, err := svc.Sign("account-123", "session-1")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = svc.Validate(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsIssuerMismatch(t *testing.T) {
	signer, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "other"})
	require.NoError(t, err)
	token, err := signer.Sign("account", "session")
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "idcore"})
	require.NoError(t, err)
	_, err = verifier.Validate(token)
	require.EqualError(t, err, "jwt: invalid issuer")
}
