package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/cache"
	"github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
)

func TestCreateSessionAndAuthenticate(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	account := createTestAccount(t, db, "alice", "Passw0rd!")
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, account.ID, SessionMetadata{IPAddress: "10.0.0.1 ", UserAgent: "unit-test"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.True(t, session.AuthenticatedAt.Equal(clock.Now()))

	resolved, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, session.ID, resolved.ID)
	require.Equal(t, account.ID, resolved.AccountID)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	_, svc, _ := setupSessionService(t, nil)

	_, err := svc.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
	_, err = svc.Authenticate(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRevokeSessionPreventsAuthentication(t *testing.T) {
	db, svc, _ := setupSessionService(t, nil)
	account := createTestAccount(t, db, "alice", "Passw0rd!")
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, account.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, session.ID))
	require.ErrorIs(t, svc.RevokeSession(ctx, "non-existent"), ErrSessionNotFound)

	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeAccountSessionsEvictsCache(t *testing.T) {
	server := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })

	db, svc, _ := setupSessionService(t, NewSessionCache(redisStore))
	account := createTestAccount(t, db, "alice", "Passw0rd!")
	ctx := context.Background()

	token, _, err := svc.CreateSession(ctx, account.ID, SessionMetadata{})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)

	// Revoked directly in the database, as a password reset does.
	require.NoError(t, db.Model(&models.Session{}).Where("account_id = ?", account.ID).Update("revoked_at", time.Now().UTC()).Error)
	_, err = svc.Authenticate(ctx, token)
	require.NoError(t, err, "cached copy still active")

	require.NoError(t, svc.RevokeAccountSessions(ctx, account.ID))
	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeAccountSessionsReportsLookupFailure(t *testing.T) {
	server := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })

	db, svc, _ := setupSessionService(t, NewSessionCache(redisStore))
	account := createTestAccount(t, db, "alice", "Passw0rd!")
	ctx := context.Background()

	token, _, err := svc.CreateSession(ctx, account.ID, SessionMetadata{})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)

	lookupErr := errors.New("session lookup failed")
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:fail_session_query", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "sessions" {
			_ = tx.AddError(lookupErr)
		}
	}))

	err = svc.RevokeAccountSessions(ctx, account.ID)
	require.ErrorIs(t, err, lookupErr)
}

func TestAuthenticateExpiredSession(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	account := createTestAccount(t, db, "alice", "Passw0rd!")
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, account.ID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", session.ID).Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrSessionExpired)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func setupSessionService(t *testing.T, sessionCache SessionCache) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret: "session-secret",
		TTL:    2 * time.Hour,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{Clock: clock.Now, Cache: sessionCache})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestAccount(t *testing.T, db *gorm.DB, username, password string) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	account := &models.Account{
		Username:           username,
		NormalizedUsername: models.Normalize(username),
		Email:              username + "@x.test",
		NormalizedEmail:    models.Normalize(username + "@x.test"),
		PasswordHash:       hashed,
		EmailConfirmed:     true,
		LockoutEnabled:     true,
		SecurityStamp:      store.NewSecurityStamp(),
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
