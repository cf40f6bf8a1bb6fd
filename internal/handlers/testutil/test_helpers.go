package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/api"
	"github.com/charlesng35/idcore/internal/app"
	iauth "github.com/charlesng35/idcore/internal/auth"
	sharedtestutil "github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/mailqueue"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/oidc"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/internal/verification"
	"github.com/charlesng35/idcore/pkg/mail"
	"github.com/charlesng35/idcore/pkg/response"
)

// Client registered by every Env.
const (
	ClientID          = "web"
	ClientSecret      = "web-secret"
	ExplicitClientID  = "explicit"
	RedirectURI       = "https://app.example.test/callback"
	PostLogoutURI     = "https://app.example.test/signed-out"
	DefaultIssuer     = "http://idcore.test"
	DefaultCodeLength = 8
)

var (
	signerOnce sync.Once
	signer     *oidc.Signer
)

func sharedSigner(t *testing.T) *oidc.Signer {
	t.Helper()
	signerOnce.Do(func() {
		generated, err := oidc.GenerateSigner()
		if err != nil {
			panic(err)
		}
		signer = generated
	})
	return signer
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Router  *gin.Engine
	Config  *app.Config
	Store   *store.CredentialStore
	Engine  *oidc.Engine
	Queue   *mailqueue.Queue
	cookies map[string]*http.Cookie
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	return newEnv(t, DefaultIssuer)
}

// NewServer starts a real HTTP server whose address is also the issuer, as
// required by relying party libraries that verify discovery documents.
func NewServer(t *testing.T) (*Env, *httptest.Server) {
	t.Helper()

	srv := httptest.NewUnstartedServer(nil)
	env := newEnv(t, "http://"+srv.Listener.Addr().String())
	srv.Config.Handler = env.Router
	srv.Start()
	t.Cleanup(srv.Close)
	return env, srv
}

func newEnv(t *testing.T, issuer string) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg := &app.Config{
		Server: app.ServerConfig{
			BaseURL:   issuer,
			LoginPath: "/account/login",
			CSRF:      app.CSRFConfig{Enabled: true},
			RateLimit: app.RateLimitConfig{Requests: 1000, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			Session: app.SessionSettings{Secret: "test-suite-super-secret-key-32-bytes!!", TTL: time.Hour},
		},
		Verification: app.VerificationConfig{
			CodeLength:     DefaultCodeLength,
			MaxAttempts:    5,
			ResendCooldown: time.Minute,
			CodeLifetime:   10 * time.Minute,
			ResetTokenTTL:  time.Hour,
		},
		OIDC: app.OIDCConfig{Issuer: issuer},
		Mail: app.MailConfig{SiteName: "idcore-test"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}

	credentials, err := store.NewCredentialStore(db)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig(issuer))
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	loginCfg := cfg.Auth.LoginConfig()
	loginCfg.Audit = audit
	login, err := iauth.NewLoginService(credentials, sessions, loginCfg)
	require.NoError(t, err)

	queue, err := mailqueue.NewQueue(db, mail.NewLogMailer(nil))
	require.NoError(t, err)

	rules := identity.NewRules(identity.DefaultPasswordPolicy())
	policy := cfg.Verification.Policy()

	registration, err := services.NewRegistrationService(credentials, rules, queue,
		services.WithRegistrationPolicy(policy),
		services.WithRegistrationAudit(audit),
		services.WithRegistrationSiteName(cfg.Mail.SiteName),
	)
	require.NoError(t, err)

	recovery, err := services.NewRecoveryService(credentials, rules, queue,
		services.WithRecoveryPolicy(policy),
		services.WithRecoveryAudit(audit),
		services.WithResetTokenTTL(cfg.Verification.ResetTokenTTL),
		services.WithSessionRevoker(sessions),
	)
	require.NoError(t, err)

	engine, err := oidc.NewEngine(db, credentials, sharedSigner(t), cfg.OIDC.EngineConfig(), oidc.WithAudit(audit))
	require.NoError(t, err)

	require.NoError(t, oidc.SeedScopes(ctx, db, []oidc.ScopeSeed{
		{Name: "api", DisplayName: "API", Resources: []string{"resource-server"}},
	}))
	require.NoError(t, oidc.SeedClients(ctx, db, []oidc.ClientSeed{
		{
			ClientID:               ClientID,
			ClientSecret:           ClientSecret,
			DisplayName:            "Web",
			ConsentType:            models.ConsentImplicit,
			RedirectURIs:           []string{RedirectURI},
			PostLogoutRedirectURIs: []string{PostLogoutURI},
		},
		{
			ClientID:     ExplicitClientID,
			ClientSecret: ClientSecret,
			DisplayName:  "Explicit",
			ConsentType:  models.ConsentExplicit,
			RedirectURIs: []string{RedirectURI},
		},
	}))

	router, err := api.NewRouter(api.Dependencies{
		DB:           db,
		Config:       cfg,
		Accounts:     credentials,
		Sessions:     sessions,
		Login:        login,
		Registration: registration,
		Recovery:     recovery,
		Engine:       engine,
		RateStore:    middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Router:  router,
		Config:  cfg,
		Store:   credentials,
		Engine:  engine,
		Queue:   queue,
		cookies: make(map[string]*http.Cookie),
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes a JSON request against the test router, replaying cookies and the CSRF token.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Do(req)
}

// PostForm submits url-encoded values, as a browser form would.
func (e *Env) PostForm(path string, values url.Values) *httptest.ResponseRecorder {
	e.T.Helper()
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.Do(req)
}

// Do sends req with the stored cookies and, for mutating requests, the CSRF header.
func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	e.T.Helper()

	if requiresCSRFAttestation(req.Method) && req.Header.Get(middleware.CSRFHeaderName) == "" {
		req.Header.Set(middleware.CSRFHeaderName, e.CSRFToken())
	}
	for _, cookie := range e.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	e.captureCookies(w.Result())
	return w
}

// CSRFToken returns the double-submit token, fetching one on first use.
func (e *Env) CSRFToken() string {
	e.T.Helper()
	if cookie, ok := e.cookies[middleware.CSRFCookieName]; ok {
		return cookie.Value
	}

	req, err := http.NewRequest(http.MethodGet, "/account/me", nil)
	require.NoError(e.T, err)
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	e.captureCookies(w.Result())

	cookie, ok := e.cookies[middleware.CSRFCookieName]
	require.True(e.T, ok, "csrf cookie was not issued")
	require.Equal(e.T, cookie.Value, w.Header().Get(middleware.CSRFHeaderName))
	return cookie.Value
}

// SessionCookie returns the current session cookie, if any.
func (e *Env) SessionCookie() (*http.Cookie, bool) {
	cookie, ok := e.cookies[middleware.SessionCookieName]
	return cookie, ok
}

// ClearCookies forgets every stored cookie, like a fresh browser.
func (e *Env) ClearCookies() {
	e.cookies = make(map[string]*http.Cookie)
}

func (e *Env) captureCookies(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(e.cookies, c.Name)
			continue
		}
		e.cookies[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

var trailingCode = regexp.MustCompile(`(\d+)\s*$`)

// LastCode returns the code carried by the newest queued message for recipient.
func (e *Env) LastCode(recipient string) string {
	e.T.Helper()
	return LastCode(e.T, e.DB, recipient)
}

// LastCode reads the newest queued message for recipient and extracts the trailing code.
func LastCode(t *testing.T, db *gorm.DB, recipient string) string {
	t.Helper()
	var msg models.OutboundMailMessage
	require.NoError(t, db.Where("recipient = ?", recipient).Order("created_at DESC").Order("id DESC").Take(&msg).Error)
	match := trailingCode.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, msg.Body)
	return match[1]
}

// RegisterAndConfirm runs the full registration flow and leaves the browser signed in.
func (e *Env) RegisterAndConfirm(username, email, password string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/account/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		PendingID string `json:"pending_id"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &created)
	require.NotEmpty(e.T, created.PendingID)

	w = e.Request(http.MethodPost, "/account/confirm", map[string]string{
		"pending_id": created.PendingID,
		"code":       e.LastCode(email),
	})
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var confirmed struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &confirmed)
	require.NotEmpty(e.T, confirmed.Account.ID)
	return confirmed.Account.ID
}

// VerificationPolicy exposes the code policy the Env was built with.
func (e *Env) VerificationPolicy() verification.Policy {
	return e.Config.Verification.Policy()
}
