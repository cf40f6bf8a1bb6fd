package oidc

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/database"
	"github.com/charlesng35/idcore/internal/database/testutil"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := testSigner(t)

	token, err := signer.Sign(jwt.MapClaims{"sub": "abc"})
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	require.Equal(t, signer.KeyID(), parsed.Header["kid"])

	claims := jwt.MapClaims{}
	require.NoError(t, signer.Parse(token, claims))
	require.Equal(t, "abc", claims["sub"])

	other, err := GenerateSigner()
	require.NoError(t, err)
	require.Error(t, other.Parse(token, jwt.MapClaims{}))
}

func TestSignerJWKSPublishesKey(t *testing.T) {
	signer := testSigner(t)
	set := signer.JWKS()
	require.Len(t, set.Keys, 1)
	require.Equal(t, signer.KeyID(), set.Keys[0].KeyID)
	require.Equal(t, "RS256", set.Keys[0].Algorithm)
	require.True(t, set.Keys[0].IsPublic())
}

func TestLoadSignerPersistsEncryptedKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()
	key := []byte("0123456789abcdef0123456789abcdef")

	first, err := LoadSigner(ctx, db, key)
	require.NoError(t, err)

	stored, err := database.GetSystemSetting(ctx, db, database.SigningKeySetting)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	require.NotContains(t, stored, "PRIVATE KEY")

	second, err := LoadSigner(ctx, db, key)
	require.NoError(t, err)
	require.Equal(t, first.KeyID(), second.KeyID())
}

func TestLoadSignerRotatesUnreadableKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	first, err := LoadSigner(ctx, db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	rotated, err := LoadSigner(ctx, db, []byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID(), rotated.KeyID())

	reloaded, err := LoadSigner(ctx, db, []byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	require.Equal(t, rotated.KeyID(), reloaded.KeyID())
}
