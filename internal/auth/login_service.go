package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 5 * time.Minute
)

// ErrAccountLocked is returned while a lockout is active.
var ErrAccountLocked = appErrors.New("ACCOUNT_LOCKED", "Account is temporarily locked, try again later", http.StatusForbidden)

// LoginConfig tunes password sign-in.
type LoginConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
	Audit            *services.AuditService
}

// LoginService authenticates local passwords and opens browser sessions.
type LoginService struct {
	store     *store.CredentialStore
	sessions  *SessionService
	audit     *services.AuditService
	threshold int
	lockout   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewLoginService constructs a LoginService.
func NewLoginService(credentials *store.CredentialStore, sessions *SessionService, cfg LoginConfig) (*LoginService, error) {
	if credentials == nil {
		return nil, errors.New("login service: credential store is required")
	}
	if sessions == nil {
		return nil, errors.New("login service: session service is required")
	}

	svc := &LoginService{
		store:     credentials,
		sessions:  sessions,
		audit:     cfg.Audit,
		threshold: cfg.LockoutThreshold,
		lockout:   cfg.LockoutDuration,
		now:       cfg.Clock,
		log:       logger.WithModule("auth"),
	}
	if svc.threshold <= 0 {
		svc.threshold = DefaultLockoutThreshold
	}
	if svc.lockout <= 0 {
		svc.lockout = DefaultLockoutDuration
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

// SignInResult carries the outcome of a successful sign-in.
type SignInResult struct {
	Token   string
	Session *models.Session
	Account *models.Account
}

// PasswordSignIn verifies identifier (username or email) and password.
func (s *LoginService) PasswordSignIn(ctx context.Context, identifier, password string, meta SessionMetadata) (*SignInResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, appErrors.ErrInvalidCredentials
	}

	account, err := s.store.FindAccountByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now()
	if !account.EmailConfirmed {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, appErrors.ErrInvalidCredentials
	}
	if account.IsLockedOut(now) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		s.record(ctx, account.ID, "locked", meta)
		return nil, ErrAccountLocked
	}

	if !crypto.VerifyPassword(account.PasswordHash, password) {
		updated, err := s.store.RecordSignInFailure(ctx, account.ID, s.threshold, s.lockout, now)
		if err != nil {
			return nil, appErrors.ErrInternalServer.WithInternal(err)
		}
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		s.record(ctx, account.ID, "failure", meta)
		if updated.IsLockedOut(now) {
			s.log.Info("account locked out", zap.String("account_id", account.ID))
			return nil, ErrAccountLocked
		}
		return nil, appErrors.ErrInvalidCredentials
	}

	return s.SignIn(ctx, account, meta)
}

// SignIn opens a session for an account that proved its identity, such as
// right after registration confirmation.
func (s *LoginService) SignIn(ctx context.Context, account *models.Account, meta SessionMetadata) (*SignInResult, error) {
	now := s.now()
	if !account.CanSignIn(now) {
		return nil, appErrors.ErrInvalidCredentials
	}

	if err := s.store.RecordSignInSuccess(ctx, account.ID, meta.IPAddress, now); err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(err)
	}

	token, session, err := s.sessions.CreateSession(ctx, account.ID, meta)
	if err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.record(ctx, account.ID, "success", meta)
	return &SignInResult{Token: token, Session: session, Account: account}, nil
}

// SignOut revokes the session.
func (s *LoginService) SignOut(ctx context.Context, session *models.Session, meta SessionMetadata) error {
	if session == nil {
		return nil
	}
	if err := s.sessions.RevokeSession(ctx, session.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	if s.audit != nil {
		_ = s.audit.Log(ctx, services.AuditEntry{
			AccountID: &session.AccountID,
			Action:    services.AuditSignOut,
			Result:    "success",
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	}
	return nil
}

func (s *LoginService) record(ctx context.Context, accountID, result string, meta SessionMetadata) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, services.AuditEntry{
		AccountID: &accountID,
		Action:    services.AuditSignIn,
		Result:    result,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}
