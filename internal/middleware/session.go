package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/models"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/response"
)

const (
	// SessionCookieName carries the signed browser session token.
	SessionCookieName = "idcore_session"

	CtxSessionKey   = "session"
	CtxAccountIDKey = "accountID"
)

// LoadSession resolves the browser session cookie, if any, and exposes it to
// downstream handlers. Requests without a valid session continue anonymously;
// a stale cookie is cleared.
func LoadSession(sessions *iauth.SessionService) gin.HandlerFunc {
	log := logger.WithModule("session")
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		session, err := sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !isSessionRejection(err) {
				log.Warn("session lookup failed", zap.Error(err))
			}
			ClearSessionCookie(c)
			c.Next()
			return
		}

		c.Set(CtxSessionKey, session)
		c.Set(CtxAccountIDKey, session.AccountID)
		c.Next()
	}
}

// RequireSession rejects requests that carry no active browser session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := SessionFromContext(c); !ok {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SessionFromContext returns the session placed by LoadSession.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	value, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*models.Session)
	return session, ok && session != nil
}

// SetSessionCookie stores the session token for maxAge seconds.
func SetSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, maxAge, "/", "", isSecureRequest(c.Request), true)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", isSecureRequest(c.Request), true)
}

func isSessionRejection(err error) bool {
	return errors.Is(err, iauth.ErrSessionInvalidToken) ||
		errors.Is(err, iauth.ErrSessionNotFound) ||
		errors.Is(err, iauth.ErrSessionExpired) ||
		errors.Is(err, iauth.ErrSessionRevoked)
}
