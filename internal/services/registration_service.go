package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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
)

const (
	registrationSubject   = "Confirm your registration"
	placeholderDomain     = "pending.invalid"
	defaultApplicationTag = "idcore"
)

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithRegistrationPolicy overrides the confirmation code policy.
func WithRegistrationPolicy(policy verification.Policy) RegistrationOption {
	return func(s *RegistrationService) {
		s.policy = policy.Normalize()
	}
}

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRegistrationAudit records registration events.
func WithRegistrationAudit(audit *AuditService) RegistrationOption {
	return func(s *RegistrationService) {
		s.audit = audit
	}
}

// WithRegistrationSiteName sets the site name mentioned in confirmation mail.
func WithRegistrationSiteName(name string) RegistrationOption {
	return func(s *RegistrationService) {
		if strings.TrimSpace(name) != "" {
			s.siteName = strings.TrimSpace(name)
		}
	}
}

// RegistrationService runs the two-phase registration: a locked shadow
// account plus pending record, confirmed by an emailed numeric code.
type RegistrationService struct {
	store    *store.CredentialStore
	rules    identity.Rules
	queue    MailQueue
	audit    *AuditService
	policy   verification.Policy
	siteName string
	now      func() time.Time
	log      *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(credentials *store.CredentialStore, rules identity.Rules, queue MailQueue, opts ...RegistrationOption) (*RegistrationService, error) {
	if credentials == nil {
		return nil, errors.New("registration service: credential store is required")
	}
	if queue == nil {
		return nil, errors.New("registration service: mail queue is required")
	}

	service := &RegistrationService{
		store:    credentials,
		rules:    rules,
		queue:    queue,
		policy:   verification.DefaultPolicy(),
		siteName: defaultApplicationTag,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("registration"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RegisterInput carries the identity the user asked for.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register validates the desired identity, creates the shadow account and its
// pending registration, and queues the confirmation code. It returns the
// pending registration id.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (string, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	fields := s.rules.ValidateRegistration(username, email, input.Password)
	if len(fields) == 0 {
		usernameTaken, emailTaken, err := s.store.IdentityTaken(ctx, username, email)
		if err != nil {
			return "", appErrors.ErrInternalServer.WithInternal(err)
		}
		if usernameTaken {
			fields = append(fields, appErrors.FieldError{
				Field:   "username",
				Code:    "DUPLICATE_USERNAME",
				Message: fmt.Sprintf("Username '%s' is already taken", username),
			})
		}
		if emailTaken {
			fields = append(fields, appErrors.FieldError{
				Field:   "email",
				Code:    "DUPLICATE_EMAIL",
				Message: fmt.Sprintf("Email '%s' is already taken", email),
			})
		}
	}
	if len(fields) > 0 {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return "", appErrors.NewValidation(fields...)
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(fmt.Errorf("registration service: hash password: %w", err))
	}
	code, err := s.policy.Generate()
	if err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}

	placeholder := "pending_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	lockoutEnd := models.LockoutForever
	account := &models.Account{
		Username:           placeholder,
		NormalizedUsername: placeholder,
		Email:              placeholder + "@" + placeholderDomain,
		NormalizedEmail:    placeholder + "@" + placeholderDomain,
		PasswordHash:       hash,
		LockoutEnabled:     true,
		LockoutEnd:         &lockoutEnd,
		SecurityStamp:      store.NewSecurityStamp(),
	}
	pending := &models.PendingRegistration{
		Username:           username,
		NormalizedUsername: models.Normalize(username),
		Email:              email,
		NormalizedEmail:    models.Normalize(email),
		Code:               &code,
		CodeIssuedAt:       s.now(),
	}

	if err := s.store.CreateShadowAccount(ctx, account, pending); err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}

	if err := s.sendCode(ctx, username, email, code); err != nil {
		return "", appErrors.ErrInternalServer.WithInternal(err)
	}

	metrics.Registrations.WithLabelValues("created").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: &account.ID,
		Action:    AuditRegistrationCreated,
		Result:    "success",
	})
	return pending.ID, nil
}

// Confirm checks code against the pending registration. On success the
// promoted account is returned; every other outcome maps to a code error
// without revealing whether the registration exists.
func (s *RegistrationService) Confirm(ctx context.Context, pendingID, code string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	pendingID = strings.TrimSpace(pendingID)
	if pendingID == "" || strings.TrimSpace(code) == "" {
		return nil, appErrors.NewInvalidCode(0)
	}

	result, err := s.store.ConfirmPending(ctx, pendingID, code, s.policy, s.now())
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.Registrations.WithLabelValues("conflict").Inc()
			return nil, appErrors.NewValidation(appErrors.FieldError{
				Field:   "username",
				Code:    "DUPLICATE_USERNAME",
				Message: "This username or email was confirmed by another account",
			})
		}
		return nil, appErrors.ErrInternalServer.WithInternal(err)
	}

	switch result.Outcome {
	case store.ConfirmAccepted:
		metrics.Registrations.WithLabelValues("confirmed").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			AccountID: &result.Account.ID,
			Action:    AuditRegistrationConfirmed,
			Result:    "success",
		})
		s.log.Info("registration confirmed", zap.String("account_id", result.Account.ID))
		return result.Account, nil
	case store.ConfirmBlocked:
		metrics.Registrations.WithLabelValues("blocked").Inc()
		return nil, appErrors.ErrAttemptsExhausted
	case store.ConfirmExpired:
		metrics.Registrations.WithLabelValues("expired").Inc()
		return nil, appErrors.ErrCodeExpired
	case store.ConfirmMismatch:
		metrics.Registrations.WithLabelValues("invalid_code").Inc()
		if result.RemainingAttempts == 0 {
			return nil, appErrors.ErrAttemptsExhausted
		}
		return nil, appErrors.NewInvalidCode(result.RemainingAttempts)
	default:
		metrics.Registrations.WithLabelValues("invalid_code").Inc()
		return nil, appErrors.NewInvalidCode(0)
	}
}

// ResendByID issues a fresh code for a pending registration once the cooldown
// has elapsed. Unknown ids are answered as if a code had been sent.
func (s *RegistrationService) ResendByID(ctx context.Context, pendingID string) error {
	ctx = ensureContext(ctx)

	pending, err := s.store.FindPendingByID(ctx, strings.TrimSpace(pendingID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	return s.resend(ctx, pending)
}

// ResendByEmail issues a fresh code for the latest pending registration of
// email. The answer is the same whether or not a registration matched and
// whether or not its cooldown is still running, so the address cannot be
// probed through this path.
func (s *RegistrationService) ResendByEmail(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	pending, err := s.store.FindLatestPendingByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	if err := s.resend(ctx, pending); err != nil {
		if errors.Is(err, appErrors.ErrCooldown) {
			s.log.Debug("resend by email within cooldown", zap.String("pending_id", pending.ID))
			return nil
		}
		return err
	}
	return nil
}

func (s *RegistrationService) resend(ctx context.Context, pending *models.PendingRegistration) error {
	code, err := s.policy.Generate()
	if err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	updated, remaining, err := s.store.ReissuePendingCode(ctx, pending.ID, code, s.now(), s.policy.ResendCooldown)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	if remaining > 0 {
		metrics.Registrations.WithLabelValues("cooldown").Inc()
		return appErrors.NewRateLimited(remaining)
	}

	if err := s.sendCode(ctx, updated.Username, updated.Email, code); err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}
	metrics.Registrations.WithLabelValues("resent").Inc()
	return nil
}

func (s *RegistrationService) sendCode(ctx context.Context, username, email, code string) error {
	body := fmt.Sprintf("Hello, %s!\r\nYour code to confirm your registration on %s:\r\n%s", username, s.siteName, code)
	if err := s.queue.Enqueue(ctx, mail.Message{To: []string{email}, Subject: registrationSubject, Body: body}); err != nil {
		return fmt.Errorf("registration service: enqueue confirmation: %w", err)
	}
	return nil
}
