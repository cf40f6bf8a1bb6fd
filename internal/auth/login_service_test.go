package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
)

func newTestLoginService(t *testing.T) (*LoginService, *SessionService, *testClock, *store.CredentialStore, *services.AuditService, *models.Account) {
	t.Helper()
	db, sessions, clock := setupSessionService(t, nil)
	credentials, err := store.NewCredentialStore(db)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewLoginService(credentials, sessions, LoginConfig{
		LockoutThreshold: 3,
		LockoutDuration:  5 * time.Minute,
		Clock:            clock.Now,
		Audit:            audit,
	})
	require.NoError(t, err)

	account := createTestAccount(t, db, "alice", "Passw0rd!")
	return svc, sessions, clock, credentials, audit, account
}

func TestNewLoginServiceRequiresDependencies(t *testing.T) {
	_, err := NewLoginService(nil, nil, LoginConfig{})
	require.Error(t, err)
}

func TestPasswordSignInByUsernameOrEmail(t *testing.T) {
	svc, sessions, _, _, audit, account := newTestLoginService(t)
	ctx := context.Background()

	for _, identifier := range []string{"alice", "ALICE@x.test"} {
		result, err := svc.PasswordSignIn(ctx, identifier, "Passw0rd!", SessionMetadata{IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		require.Equal(t, account.ID, result.Account.ID)

		session, err := sessions.Authenticate(ctx, result.Token)
		require.NoError(t, err)
		require.Equal(t, account.ID, session.AccountID)
	}

	_, total, err := audit.List(ctx, services.AuditListOptions{Filters: services.AuditFilters{Action: services.AuditSignIn, Result: "success"}})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
}

func TestPasswordSignInRejectsWrongPasswordAndLocksOut(t *testing.T) {
	svc, _, clock, credentials, _, account := newTestLoginService(t)
	ctx := context.Background()

	_, err := svc.PasswordSignIn(ctx, "alice", "wrong", SessionMetadata{})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	_, err = svc.PasswordSignIn(ctx, "alice", "wrong", SessionMetadata{})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	_, err = svc.PasswordSignIn(ctx, "alice", "wrong", SessionMetadata{})
	require.ErrorIs(t, err, ErrAccountLocked)

	_, err = svc.PasswordSignIn(ctx, "alice", "Passw0rd!", SessionMetadata{})
	require.ErrorIs(t, err, ErrAccountLocked)

	clock.Advance(6 * time.Minute)
	result, err := svc.PasswordSignIn(ctx, "alice", "Passw0rd!", SessionMetadata{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	reloaded, err := credentials.FindAccountByID(ctx, account.ID)
	require.NoError(t, err)
	require.Zero(t, reloaded.AccessFailedCount)
}

func TestPasswordSignInUnknownIdentifier(t *testing.T) {
	svc, _, _, _, _, _ := newTestLoginService(t)

	_, err := svc.PasswordSignIn(context.Background(), "nobody", "Passw0rd!", SessionMetadata{})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	_, err = svc.PasswordSignIn(context.Background(), "", "", SessionMetadata{})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestSignOutRevokesSession(t *testing.T) {
	svc, sessions, _, _, _, _ := newTestLoginService(t)
	ctx := context.Background()

	result, err := svc.PasswordSignIn(ctx, "alice", "Passw0rd!", SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, result.Session, SessionMetadata{}))
	_, err = sessions.Authenticate(ctx, result.Token)
	require.ErrorIs(t, err, ErrSessionRevoked)

	require.NoError(t, svc.SignOut(ctx, nil, SessionMetadata{}))
}
