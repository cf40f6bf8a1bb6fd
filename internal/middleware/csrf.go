package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/idcore/pkg/crypto"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/response"
)

const (
	// CSRFCookieName is the cookie used to transport the CSRF token to clients.
	CSRFCookieName = "idcore_csrf"
	// CSRFHeaderName is the header clients must present for unsafe HTTP methods.
	CSRFHeaderName = "X-CSRF-Token"
	// CSRFFormField is accepted instead of the header for plain form posts.
	CSRFFormField = "__csrf"

	csrfTokenLength  = 32
	csrfCookieMaxAge = 12 * 60 * 60
)

var unsafeMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// CSRF implements the double-submit-cookie pattern for the cookie-authenticated
// account and consent endpoints. Safe methods receive the token via cookie and
// header; mutating requests echo it in the X-CSRF-Token header or the __csrf
// form field.
func CSRF() gin.HandlerFunc {
	log := logger.WithModule("csrf")
	return func(c *gin.Context) {
		method := c.Request.Method
		if method == http.MethodOptions {
			c.Next()
			return
		}

		token, issued, err := ensureCSRFCookie(c)
		if err != nil {
			response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		if _, unsafe := unsafeMethods[method]; unsafe {
			presented := strings.TrimSpace(c.GetHeader(CSRFHeaderName))
			if presented == "" {
				presented = strings.TrimSpace(c.PostForm(CSRFFormField))
			}
			if !constantTimeEqual(token, presented) {
				log.Warn("csrf validation failed",
					zap.String("method", method),
					zap.String("path", c.FullPath()),
					zap.Bool("cookie_issued", issued),
				)
				response.Error(c, apperrors.ErrCSRFInvalid)
				c.Abort()
				return
			}
		} else {
			c.Header(CSRFHeaderName, token)
		}

		c.Next()
	}
}

// CSRFUnless applies CSRF to every request except those skip exempts.
func CSRFUnless(skip func(*gin.Context) bool) gin.HandlerFunc {
	csrf := CSRF()
	return func(c *gin.Context) {
		if skip != nil && skip(c) {
			c.Next()
			return
		}
		csrf(c)
	}
}

func ensureCSRFCookie(c *gin.Context) (string, bool, error) {
	if existing, err := c.Cookie(CSRFCookieName); err == nil && existing != "" {
		return existing, false, nil
	}

	token, err := crypto.GenerateToken(csrfTokenLength)
	if err != nil {
		return "", false, err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   isSecureRequest(c.Request),
		MaxAge:   csrfCookieMaxAge,
		SameSite: http.SameSiteStrictMode,
	})
	// The fresh cookie is not on the request yet; later reads in this request
	// must see the same token.
	c.Request.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	return token, true, nil
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
