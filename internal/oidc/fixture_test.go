package oidc

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
)

const (
	testIssuer      = "https://id.example.test"
	testRedirect    = "https://app.example.test/callback"
	testSecret      = "s3cret-value"
	testPostLogout  = "https://app.example.test/signed-out"
	confidentialApp = "web"
	publicApp       = "spa"
	explicitApp     = "explicit"
	externalApp     = "external"
	systematicApp   = "systematic"
)

var (
	sharedSignerOnce sync.Once
	sharedSigner     *Signer
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	sharedSignerOnce.Do(func() {
		signer, err := GenerateSigner()
		if err != nil {
			panic(err)
		}
		sharedSigner = signer
	})
	return sharedSigner
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	db      *gorm.DB
	store   *store.CredentialStore
	engine  *Engine
	clock   *testClock
	account *models.Account
	session *models.Session
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	credentials, err := store.NewCredentialStore(db)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	engine, err := NewEngine(db, credentials, testSigner(t), Config{Issuer: testIssuer + "/"}, WithClock(clock.Now))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, SeedScopes(ctx, db, []ScopeSeed{
		{Name: "api", DisplayName: "API", Resources: []string{"resource-server"}},
	}))
	require.NoError(t, SeedClients(ctx, db, []ClientSeed{
		{ClientID: confidentialApp, ClientSecret: testSecret, DisplayName: "Web", ConsentType: models.ConsentImplicit, RedirectURIs: []string{testRedirect}, PostLogoutRedirectURIs: []string{testPostLogout}},
		{ClientID: publicApp, ClientType: models.ClientPublic, ConsentType: models.ConsentImplicit, RedirectURIs: []string{testRedirect}},
		{ClientID: explicitApp, ClientSecret: testSecret, DisplayName: "Explicit", ConsentType: models.ConsentExplicit, RedirectURIs: []string{testRedirect}},
		{ClientID: externalApp, ClientSecret: testSecret, ConsentType: models.ConsentExternal, RedirectURIs: []string{testRedirect}},
		{ClientID: systematicApp, ClientSecret: testSecret, ConsentType: models.ConsentSystematic, RedirectURIs: []string{testRedirect}},
	}))

	account := createAccount(t, db, "alice", "alice@x.test")
	session := &models.Session{
		ID:              "7d0f6c5e-6a3f-4a55-9f55-2b7a3d6c1e01",
		AccountID:       account.ID,
		AuthenticatedAt: clock.Now().Add(-time.Minute),
		ExpiresAt:       clock.Now().Add(time.Hour),
	}

	return &engineFixture{db: db, store: credentials, engine: engine, clock: clock, account: account, session: session}
}

func createAccount(t *testing.T, db *gorm.DB, username, email string) *models.Account {
	t.Helper()
	hash, err := crypto.HashPassword("Passw0rd!")
	require.NoError(t, err)

	account := &models.Account{
		Username:           username,
		NormalizedUsername: models.Normalize(username),
		Email:              email,
		NormalizedEmail:    models.Normalize(email),
		PasswordHash:       hash,
		EmailConfirmed:     true,
		LockoutEnabled:     true,
		SecurityStamp:      store.NewSecurityStamp(),
	}
	require.NoError(t, db.Omit("Roles").Create(account).Error)

	var role models.Role
	require.NoError(t, db.Take(&role, "name = ?", models.RoleUser).Error)
	require.NoError(t, db.Model(account).Association("Roles").Append(&role))
	return account
}

func authorizeValues(clientID, scope string, extra ...string) url.Values {
	values := url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {testRedirect},
		"response_type": {"code"},
		"scope":         {scope},
		"state":         {"xyz"},
		"nonce":         {"n-0S6"},
	}
	for i := 0; i+1 < len(extra); i += 2 {
		values.Set(extra[i], extra[i+1])
	}
	return values
}

func parseRequest(t *testing.T, values url.Values) *AuthorizationRequest {
	t.Helper()
	req, err := ParseAuthorizationRequest(values)
	require.NoError(t, err)
	return req
}

func redirectParams(t *testing.T, result *AuthorizeResult) url.Values {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.RedirectURL)
	parsed, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	return parsed.Query()
}

// issueCode runs an authorization request that must auto-approve and returns the code.
func (f *engineFixture) issueCode(t *testing.T, values url.Values) string {
	t.Helper()
	result, err := f.engine.Authorize(context.Background(), parseRequest(t, values), f.session)
	require.NoError(t, err)
	require.Equal(t, OutcomeIssued, result.Outcome)
	code := redirectParams(t, result).Get("code")
	require.NotEmpty(t, code)
	return code
}

func (f *engineFixture) application(t *testing.T, clientID string) *models.ClientApplication {
	t.Helper()
	app, err := f.engine.FindApplication(context.Background(), clientID)
	require.NoError(t, err)
	require.NotNil(t, app)
	return app
}
