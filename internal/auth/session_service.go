package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
)

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by sign-out or a credential change.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a session has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied session token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	Clock func() time.Time
	Cache SessionCache
}

// SessionService manages browser sessions backed by the sessions table and a
// signed cookie token.
type SessionService struct {
	db    *gorm.DB
	jwt   *JWTService
	now   func() time.Time
	cache SessionCache
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	clock := func() time.Time { return time.Now().UTC() }
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:    db,
		jwt:   jwtService,
		now:   clock,
		cache: cfg.Cache,
	}, nil
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.jwt.TTL()
}

// CreateSession starts a session for an account that just authenticated and
// returns the signed cookie value.
func (s *SessionService) CreateSession(ctx context.Context, accountID string, meta SessionMetadata) (string, *models.Session, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", nil, errors.New("session service: account id is required")
	}

	now := s.now()
	session := &models.Session{
		AccountID:       accountID,
		IPAddress:       strings.TrimSpace(meta.IPAddress),
		UserAgent:       strings.TrimSpace(meta.UserAgent),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.jwt.TTL()),
		LastSeenAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	token, err := s.jwt.Sign(accountID, session.ID)
	if err != nil {
		return "", nil, fmt.Errorf("session service: sign session: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, session, s.jwt.TTL())
	}
	return token, session, nil
}

// Authenticate resolves the active session behind a cookie token.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalidToken
	}

	claims, err := s.jwt.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalidToken, err)
	}

	session, err := s.load(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.AccountID != claims.AccountID {
		return nil, ErrSessionInvalidToken
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(s.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, sessionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if s.cache != nil && session.RevokedAt == nil {
		if ttl := session.ExpiresAt.Sub(s.now()); ttl > 0 {
			_ = s.cache.Set(ctx, &session, ttl)
		}
	}
	return &session, nil
}

// RevokeSession marks a session as revoked.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, sessionID)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAccountSessions revokes every active session belonging to an account.
func (s *SessionService) RevokeAccountSessions(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrSessionInvalidToken
	}

	now := s.now()

	// Sessions revoked elsewhere may still sit in the cache, so evict every
	// unexpired one rather than only those revoked here.
	var ids []string
	if s.cache != nil {
		err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("account_id = ? AND expires_at > ?", accountID, now).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("session service: list account sessions: %w", err)
		}
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", now)
	if result.Error != nil {
		return fmt.Errorf("session service: revoke account sessions: %w", result.Error)
	}

	for _, id := range ids {
		_ = s.cache.Delete(ctx, id)
	}
	return nil
}

// CleanupExpired removes expired and revoked sessions.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", s.now()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
