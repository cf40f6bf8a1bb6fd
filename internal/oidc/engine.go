// Package oidc implements the authorization server: the authorization
// endpoint state machine with consent bookkeeping, the token endpoint for the
// authorization_code and refresh_token grants, userinfo, discovery and the
// signing keys.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
)

// Config controls token lifetimes and the issuer identifier.
type Config struct {
	Issuer           string
	AccessTokenTTL   time.Duration
	IdentityTokenTTL time.Duration
	CodeTTL          time.Duration
	RefreshTokenTTL  time.Duration
}

func (c Config) withDefaults() Config {
	c.Issuer = strings.TrimRight(strings.TrimSpace(c.Issuer), "/")
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.IdentityTokenTTL <= 0 {
		c.IdentityTokenTTL = 20 * time.Minute
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 5 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 14 * 24 * time.Hour
	}
	return c
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithAudit records grant revocations.
func WithAudit(audit *services.AuditService) Option {
	return func(e *Engine) {
		e.audit = audit
	}
}

// WithLogger overrides the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine drives authorization requests from authentication through consent
// to code issuance and token exchange.
type Engine struct {
	db       *gorm.DB
	accounts *store.CredentialStore
	signer   *Signer
	cfg      Config
	now      func() time.Time
	audit    *services.AuditService
	log      *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(db *gorm.DB, accounts *store.CredentialStore, signer *Signer, cfg Config, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("oidc: db is required")
	}
	if accounts == nil {
		return nil, errors.New("oidc: credential store is required")
	}
	if signer == nil {
		return nil, errors.New("oidc: signer is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Issuer == "" {
		return nil, errors.New("oidc: issuer is required")
	}

	engine := &Engine{
		db:       db,
		accounts: accounts,
		signer:   signer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("oidc"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Issuer returns the configured issuer identifier.
func (e *Engine) Issuer() string {
	return e.cfg.Issuer
}

// Signer returns the token signer.
func (e *Engine) Signer() *Signer {
	return e.signer
}

// Outcome is the terminal state of one authorization endpoint call.
type Outcome string

const (
	OutcomeChallenge Outcome = "challenge"
	OutcomeConsent   Outcome = "consent"
	OutcomeIssued    Outcome = "issued"
	OutcomeDenied    Outcome = "denied"
	OutcomeError     Outcome = "error"
)

// AuthorizeResult tells the transport what to do next.
type AuthorizeResult struct {
	Outcome Outcome
	// RedirectURL is set for issued, denied and error outcomes.
	RedirectURL string
	// Challenge holds the parameters to resume after interactive sign-in.
	Challenge url.Values
	// Consent is set when the user must accept or deny.
	Consent *ConsentView
}

// ConsentView describes the pending consent decision.
type ConsentView struct {
	ApplicationName string      `json:"application_name"`
	ClientID        string      `json:"client_id"`
	Scopes          []ScopeView `json:"scopes"`
	Parameters      url.Values  `json:"parameters"`
}

// ScopeView is a requested scope with its display text.
type ScopeView struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Authorize runs the authorization endpoint for the signed-in session, which may be nil.
// Errors are returned only when the client or redirect_uri cannot be trusted;
// every other failure is redirected back to the client.
func (e *Engine) Authorize(ctx context.Context, req *AuthorizationRequest, session *models.Session) (*AuthorizeResult, error) {
	app, failure, err := e.validate(ctx, req)
	if err != nil || failure != nil {
		return failure, err
	}

	account, failure, err := e.authenticate(ctx, req, session)
	if err != nil || failure != nil {
		return failure, err
	}

	grants, err := e.FindGrants(ctx, account.ID, app.ID, models.GrantPermanent, req.Scopes)
	if err != nil {
		return nil, err
	}

	switch {
	case app.ConsentType == models.ConsentExternal && len(grants) == 0:
		return e.fail(req, ErrorConsentRequired, "The logged in user is not allowed to access this client application."), nil

	case app.ConsentType == models.ConsentImplicit,
		app.ConsentType == models.ConsentExternal && len(grants) > 0,
		app.ConsentType == models.ConsentExplicit && len(grants) > 0 && !req.HasPrompt(PromptConsent):
		return e.issue(ctx, req, app, account, session, grants)

	case (app.ConsentType == models.ConsentExplicit || app.ConsentType == models.ConsentSystematic) && req.HasPrompt(PromptNone):
		return e.fail(req, ErrorConsentRequired, "Interactive user consent is required."), nil

	default:
		view, err := e.consentView(ctx, req, app)
		if err != nil {
			return nil, err
		}
		metrics.Authorizations.WithLabelValues(string(OutcomeConsent)).Inc()
		return &AuthorizeResult{Outcome: OutcomeConsent, Consent: view}, nil
	}
}

// Accept finalises a consent prompt. Grant existence is checked again so a
// stale page cannot bypass a consent revoked in the meantime.
func (e *Engine) Accept(ctx context.Context, req *AuthorizationRequest, session *models.Session) (*AuthorizeResult, error) {
	app, failure, err := e.validate(ctx, req)
	if err != nil || failure != nil {
		return failure, err
	}

	account, failure, err := e.authenticate(ctx, req, session)
	if err != nil || failure != nil {
		return failure, err
	}

	grants, err := e.FindGrants(ctx, account.ID, app.ID, models.GrantPermanent, req.Scopes)
	if err != nil {
		return nil, err
	}
	if app.ConsentType == models.ConsentExternal && len(grants) == 0 {
		return e.fail(req, ErrorConsentRequired, "The logged in user is not allowed to access this client application."), nil
	}
	return e.issue(ctx, req, app, account, session, grants)
}

// Deny terminates the request with access_denied.
func (e *Engine) Deny(ctx context.Context, req *AuthorizationRequest) (*AuthorizeResult, error) {
	_, failure, err := e.validate(ctx, req)
	if err != nil || failure != nil {
		return failure, err
	}
	result := e.redirectError(req, ErrorAccessDenied, "The authorization was denied by the end user.")
	result.Outcome = OutcomeDenied
	metrics.Authorizations.WithLabelValues(string(OutcomeDenied)).Inc()
	return result, nil
}

func (e *Engine) validate(ctx context.Context, req *AuthorizationRequest) (*models.ClientApplication, *AuthorizeResult, error) {
	if req == nil {
		return nil, nil, newError(ErrorInvalidRequest, "The authorization request is missing.")
	}

	app, err := e.FindApplication(ctx, req.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, nil, newError(ErrorInvalidRequest, "The specified 'client_id' is invalid.")
	}
	if !app.HasRedirectURI(req.RedirectURI) {
		return nil, nil, newError(ErrorInvalidRequest, "The specified 'redirect_uri' is not valid for this client application.")
	}

	if req.ResponseType != "code" {
		return nil, e.fail(req, ErrorUnsupportedResponseType, "The specified 'response_type' is not supported."), nil
	}
	if !req.HasScope(ScopeOpenID) {
		return nil, e.fail(req, ErrorInvalidScope, "The 'openid' scope is required."), nil
	}
	known, err := e.knownScopes(ctx, req.Scopes)
	if err != nil {
		return nil, nil, err
	}
	for _, scope := range req.Scopes {
		if !app.AllowsScope(scope) || !known[scope] {
			return nil, e.fail(req, ErrorInvalidScope, fmt.Sprintf("The scope %q is not allowed.", scope)), nil
		}
	}

	if req.CodeChallenge == "" && app.IsPublic() {
		return nil, e.fail(req, ErrorInvalidRequest, "The mandatory 'code_challenge' parameter is missing."), nil
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != ChallengeMethodS256 && req.CodeChallengeMethod != ChallengeMethodPlain {
		return nil, e.fail(req, ErrorInvalidRequest, "The specified 'code_challenge_method' is not supported."), nil
	}
	return app, nil, nil
}

// authenticate resolves the signed-in account, or the challenge/error when
// a fresh interactive sign-in is needed.
func (e *Engine) authenticate(ctx context.Context, req *AuthorizationRequest, session *models.Session) (*models.Account, *AuthorizeResult, error) {
	now := e.now()

	reauth := session == nil || !session.Active(now) || req.HasPrompt(PromptLogin)
	if !reauth && req.MaxAge != nil {
		reauth = now.Sub(session.AuthenticatedAt) > time.Duration(*req.MaxAge)*time.Second
	}

	var account *models.Account
	if !reauth {
		loaded, err := e.accounts.FindAccountByID(ctx, session.AccountID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			reauth = true
		case err != nil:
			return nil, nil, fmt.Errorf("oidc: load account: %w", err)
		case !loaded.CanSignIn(now):
			reauth = true
		default:
			account = loaded
		}
	}
	if !reauth {
		return account, nil, nil
	}

	if req.HasPrompt(PromptNone) {
		return nil, e.fail(req, ErrorLoginRequired, "The user is not logged in."), nil
	}
	metrics.Authorizations.WithLabelValues(string(OutcomeChallenge)).Inc()
	return nil, &AuthorizeResult{Outcome: OutcomeChallenge, Challenge: req.ChallengeValues()}, nil
}

func (e *Engine) issue(ctx context.Context, req *AuthorizationRequest, app *models.ClientApplication, account *models.Account, session *models.Session, grants []models.AuthorizationGrant) (*AuthorizeResult, error) {
	code, err := crypto.GenerateToken(32)
	if err != nil {
		return nil, fmt.Errorf("oidc: generate code: %w", err)
	}
	now := e.now()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grant models.AuthorizationGrant
		if len(grants) > 0 {
			grant = grants[0]
		} else {
			grant = models.AuthorizationGrant{
				Subject:       account.ID,
				ApplicationID: app.ID,
				Type:          models.GrantPermanent,
				Status:        models.GrantValid,
				Scopes:        append([]string(nil), req.Scopes...),
			}
			if err := tx.Create(&grant).Error; err != nil {
				return err
			}
		}

		token := models.OAuthToken{
			Type:                models.TokenAuthorizationCode,
			ReferenceHash:       crypto.HashToken(code),
			AuthorizationID:     grant.ID,
			ApplicationID:       app.ID,
			Subject:             account.ID,
			Scopes:              append([]string(nil), req.Scopes...),
			RedirectURI:         req.RedirectURI,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			Nonce:               req.Nonce,
			AuthTime:            session.AuthenticatedAt,
			SecurityStamp:       account.SecurityStamp,
			Status:              models.TokenStatusValid,
			ExpiresAt:           now.Add(e.cfg.CodeTTL),
		}
		return tx.Create(&token).Error
	})
	if err != nil {
		return nil, fmt.Errorf("oidc: issue authorization code: %w", err)
	}

	params := url.Values{}
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	params.Set("iss", e.cfg.Issuer)

	metrics.Authorizations.WithLabelValues(string(OutcomeIssued)).Inc()
	e.log.Debug("authorization code issued",
		zap.String("client_id", app.ClientID),
		zap.String("subject", account.ID),
	)
	return &AuthorizeResult{Outcome: OutcomeIssued, RedirectURL: appendQuery(req.RedirectURI, params)}, nil
}

func (e *Engine) fail(req *AuthorizationRequest, code, description string) *AuthorizeResult {
	metrics.Authorizations.WithLabelValues(string(OutcomeError)).Inc()
	return e.redirectError(req, code, description)
}

func (e *Engine) redirectError(req *AuthorizationRequest, code, description string) *AuthorizeResult {
	params := url.Values{}
	params.Set("error", code)
	if description != "" {
		params.Set("error_description", description)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	params.Set("iss", e.cfg.Issuer)
	return &AuthorizeResult{Outcome: OutcomeError, RedirectURL: appendQuery(req.RedirectURI, params)}
}

func (e *Engine) consentView(ctx context.Context, req *AuthorizationRequest, app *models.ClientApplication) (*ConsentView, error) {
	definitions, err := e.scopeDefinitions(ctx, req.Scopes)
	if err != nil {
		return nil, err
	}
	views := make([]ScopeView, 0, len(req.Scopes))
	for _, name := range req.Scopes {
		view := ScopeView{Name: name, DisplayName: name}
		if def, ok := definitions[name]; ok {
			if def.DisplayName != "" {
				view.DisplayName = def.DisplayName
			}
			view.Description = def.Description
		}
		views = append(views, view)
	}
	name := app.DisplayName
	if name == "" {
		name = app.ClientID
	}
	return &ConsentView{
		ApplicationName: name,
		ClientID:        app.ClientID,
		Scopes:          views,
		Parameters:      req.Values(),
	}, nil
}

// FindApplication loads a client by client_id. A nil application means unknown.
func (e *Engine) FindApplication(ctx context.Context, clientID string) (*models.ClientApplication, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, nil
	}
	var app models.ClientApplication
	err := e.db.WithContext(ctx).Take(&app, "client_id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oidc: load application: %w", err)
	}
	return &app, nil
}

func (e *Engine) scopeDefinitions(ctx context.Context, names []string) (map[string]models.ScopeDefinition, error) {
	out := make(map[string]models.ScopeDefinition, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []models.ScopeDefinition
	if err := e.db.WithContext(ctx).Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("oidc: load scopes: %w", err)
	}
	for _, row := range rows {
		out[row.Name] = row
	}
	return out, nil
}

func (e *Engine) knownScopes(ctx context.Context, names []string) (map[string]bool, error) {
	definitions, err := e.scopeDefinitions(ctx, names)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(definitions))
	for name := range definitions {
		known[name] = true
	}
	return known, nil
}

// resources returns the audiences attached to the granted scopes.
func (e *Engine) resources(ctx context.Context, scopes []string) ([]string, error) {
	definitions, err := e.scopeDefinitions(ctx, scopes)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, scope := range scopes {
		for _, resource := range definitions[scope].Resources {
			if !slices.Contains(out, resource) {
				out = append(out, resource)
			}
		}
	}
	return out, nil
}

func appendQuery(target string, params url.Values) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	for key, values := range params {
		query[key] = values
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
