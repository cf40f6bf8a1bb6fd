package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/internal/verification"
	"github.com/charlesng35/idcore/pkg/crypto"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/mail"
	"github.com/charlesng35/idcore/pkg/metrics"
	"github.com/charlesng35/idcore/pkg/validator"
)

const (
	recoverySubject        = "Password reset"
	passwordChangedSubject = "Your password was changed"
	defaultResetTokenTTL   = time.Hour
	resetTokenBytes        = 32
)

// ErrResetTokenInvalid is returned when a reset token is unknown, used, expired or stale.
var ErrResetTokenInvalid = appErrors.New("INVALID_TOKEN", "The reset link is invalid or has expired", http.StatusBadRequest)

// RecoveryOption customises the RecoveryService.
type RecoveryOption func(*RecoveryService)

// WithRecoveryPolicy overrides the recovery code policy.
func WithRecoveryPolicy(policy verification.Policy) RecoveryOption {
	return func(s *RecoveryService) {
		s.policy = policy.Normalize()
	}
}

// WithRecoveryClock injects a custom time source.
func WithRecoveryClock(clock func() time.Time) RecoveryOption {
	return func(s *RecoveryService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRecoveryAudit records recovery events.
func WithRecoveryAudit(audit *AuditService) RecoveryOption {
	return func(s *RecoveryService) {
		s.audit = audit
	}
}

// WithResetTokenTTL overrides how long a reset token stays redeemable.
func WithResetTokenTTL(ttl time.Duration) RecoveryOption {
	return func(s *RecoveryService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// SessionRevoker ends the browser sessions of an account.
type SessionRevoker interface {
	RevokeAccountSessions(ctx context.Context, accountID string) error
}

// WithSessionRevoker ends cached browser sessions after a password reset.
func WithSessionRevoker(revoker SessionRevoker) RecoveryOption {
	return func(s *RecoveryService) {
		s.sessions = revoker
	}
}

// RecoveryService runs password recovery keyed by email. Responses never
// reveal whether an account owns the address.
type RecoveryService struct {
	store    *store.CredentialStore
	rules    identity.Rules
	queue    MailQueue
	audit    *AuditService
	sessions SessionRevoker
	policy   verification.Policy
	tokenTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewRecoveryService constructs a RecoveryService.
func NewRecoveryService(credentials *store.CredentialStore, rules identity.Rules, queue MailQueue, opts ...RecoveryOption) (*RecoveryService, error) {
	if credentials == nil {
		return nil, errors.New("recovery service: credential store is required")
	}
	if queue == nil {
		return nil, errors.New("recovery service: mail queue is required")
	}

	service := &RecoveryService{
		store:    credentials,
		rules:    rules,
		queue:    queue,
		policy:   verification.DefaultPolicy(),
		tokenTTL: defaultResetTokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("recovery"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RequestReset issues a recovery code for email when the cooldown allows.
// The cooldown is recorded even when no confirmed account owns the address.
func (s *RecoveryService) RequestReset(ctx context.Context, email string) error {
	return s.issue(ctx, email, "requested")
}

// ResendCode replaces the outstanding code, subject to the same cooldown.
func (s *RecoveryService) ResendCode(ctx context.Context, email string) error {
	return s.issue(ctx, email, "resent")
}

func (s *RecoveryService) issue(ctx context.Context, email, outcome string) error {
	ctx = ensureContext(ctx)

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	var code *string
	account, err := s.store.FindAccountByEmail(ctx, email)
	switch {
	case err == nil && account.EmailConfirmed:
		generated, genErr := s.policy.Generate()
		if genErr != nil {
			return appErrors.ErrInternalServer.WithInternal(genErr)
		}
		code = &generated
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	remaining, err := s.store.UpsertRecoveryRequest(ctx, email, code, s.now(), s.policy.ResendCooldown, s.policy.CodeLifetime)
	if err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	if remaining > 0 {
		metrics.Recoveries.WithLabelValues("cooldown").Inc()
		return appErrors.NewRateLimited(remaining)
	}

	if code != nil {
		body := fmt.Sprintf("Your password reset code: %s", *code)
		if err := s.queue.Enqueue(ctx, mail.Message{To: []string{account.Email}, Subject: recoverySubject, Body: body}); err != nil {
			return appErrors.ErrInternalServer.WithInternal(fmt.Errorf("recovery service: enqueue code: %w", err))
		}
	}
	metrics.Recoveries.WithLabelValues(outcome).Inc()
	return nil
}

// VerifyCode checks a recovery code and, on a match, returns an opaque
// single-use reset token.
func (s *RecoveryService) VerifyCode(ctx context.Context, email, code string) (string, error) {
	ctx = ensureContext(ctx)

	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", appErrors.NewInvalidCode(0)
	}

	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.Recoveries.WithLabelValues("invalid_code").Inc()
			return "", appErrors.NewInvalidCode(0)
		}
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}
	if !account.EmailConfirmed {
		metrics.Recoveries.WithLabelValues("invalid_code").Inc()
		return "", appErrors.NewInvalidCode(0)
	}

	outcome, remaining, err := s.store.VerifyRecoveryCode(ctx, email, code, s.policy, s.now())
	if err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}

	switch outcome {
	case store.RecoveryMatched:
	case store.RecoveryExpired:
		metrics.Recoveries.WithLabelValues("expired").Inc()
		return "", appErrors.ErrCodeExpired
	case store.RecoveryExhausted:
		metrics.Recoveries.WithLabelValues("exhausted").Inc()
		return "", appErrors.ErrAttemptsExhausted
	case store.RecoveryMismatch:
		metrics.Recoveries.WithLabelValues("invalid_code").Inc()
		return "", appErrors.NewInvalidCode(remaining)
	default:
		metrics.Recoveries.WithLabelValues("invalid_code").Inc()
		return "", appErrors.NewInvalidCode(0)
	}

	token, err := crypto.GenerateToken(resetTokenBytes)
	if err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}
	record := &models.PasswordResetToken{
		AccountID:     account.ID,
		TokenHash:     crypto.HashToken(token),
		SecurityStamp: account.SecurityStamp,
		ExpiresAt:     s.now().Add(s.tokenTTL),
	}
	if err := s.store.CreateResetToken(ctx, record); err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}

	metrics.Recoveries.WithLabelValues("verified").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: &account.ID,
		Action:    AuditRecoveryVerified,
		Result:    "success",
	})
	return token, nil
}

// ResetPasswordInput carries the final recovery step.
type ResetPasswordInput struct {
	Email       string
	Token       string
	NewPassword string
	Meta        RequestMeta
}

// ResetPassword redeems a reset token and replaces the password. Unknown
// emails succeed silently; replayed or stale tokens fail without side effects.
func (s *RecoveryService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	ctx = ensureContext(ctx)

	email, err := normalizeEmail(input.Email)
	if err != nil {
		return err
	}
	if fields := s.rules.ValidatePassword(input.NewPassword); len(fields) > 0 {
		return appErrors.NewValidation(fields...)
	}
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return ErrResetTokenInvalid
	}

	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	if !account.EmailConfirmed {
		return nil
	}

	hash, err := crypto.HashPassword(input.NewPassword)
	if err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	updated, err := s.store.RedeemResetToken(ctx, account.ID, crypto.HashToken(token), hash, s.now())
	if err != nil {
		if errors.Is(err, store.ErrTokenInvalid) {
			metrics.Recoveries.WithLabelValues("invalid_token").Inc()
			return ErrResetTokenInvalid
		}
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	if s.sessions != nil {
		if err := s.sessions.RevokeAccountSessions(ctx, updated.ID); err != nil {
			s.log.Warn("session revocation after reset failed", zap.String("account_id", updated.ID), zap.Error(err))
		}
	}

	metrics.Recoveries.WithLabelValues("reset").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: &updated.ID,
		Action:    AuditPasswordReset,
		Result:    "success",
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
	})

	body := fmt.Sprintf(
		"The password for your account %s was changed at %s.\r\nIP address: %s\r\nDevice: %s\r\nIf this was not you, reset your password immediately.",
		updated.Username,
		s.now().Format(time.RFC1123),
		orUnknown(input.Meta.IPAddress),
		orUnknown(input.Meta.UserAgent),
	)
	if err := s.queue.Enqueue(ctx, mail.Message{To: []string{updated.Email}, Subject: passwordChangedSubject, Body: body}); err != nil {
		s.log.Warn("password changed notification not queued", zap.String("account_id", updated.ID), zap.Error(err))
	}
	return nil
}

type emailInput struct {
	Email string `json:"email" validate:"required,max=256,email"`
}

func normalizeEmail(value string) (string, error) {
	input := emailInput{Email: strings.TrimSpace(value)}
	if err := validator.ValidateStruct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return "", appErrors.NewValidation(verrs.FieldErrors()...)
		}
		return "", appErrors.NewValidation(appErrors.FieldError{Field: "email", Code: "INVALID_EMAIL", Message: "Email is invalid"})
	}
	return models.Normalize(input.Email), nil
}
