package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/oidc"
	"github.com/charlesng35/idcore/pkg/logger"
)

// Form fields stripped before the authorization parameters are re-parsed.
const (
	consentSubmitField = "submit"
	consentAccept      = "accept"
	consentDeny        = "deny"
)

// OIDCHandler exposes the authorization server endpoints. Protocol failures
// are rendered as {"error", "error_description"} instead of the API envelope.
type OIDCHandler struct {
	engine    *oidc.Engine
	login     *iauth.LoginService
	loginPath string
	log       *zap.Logger
}

func NewOIDCHandler(engine *oidc.Engine, login *iauth.LoginService, loginPath string) *OIDCHandler {
	if strings.TrimSpace(loginPath) == "" {
		loginPath = "/account/login"
	}
	return &OIDCHandler{
		engine:    engine,
		login:     login,
		loginPath: loginPath,
		log:       logger.WithModule("oidc-http"),
	}
}

// GET /connect/authorize
func (h *OIDCHandler) Authorize(c *gin.Context) {
	req, err := oidc.ParseAuthorizationRequest(c.Request.URL.Query())
	if err != nil {
		h.protocolError(c, err)
		return
	}

	session, _ := middleware.SessionFromContext(c)
	result, err := h.engine.Authorize(requestContext(c), req, session)
	h.respondAuthorize(c, result, err)
}

// POST /connect/authorize accepts a form-encoded authorization request from a
// relying party, or the consent decision together with the original
// authorization parameters when the submit field is present.
func (h *OIDCHandler) Decide(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.protocolError(c, &oidc.Error{Code: oidc.ErrorInvalidRequest, Description: "The request body is malformed.", Status: http.StatusBadRequest})
		return
	}
	values := authorizationValues(c.Request.PostForm)
	decision := c.Request.PostForm.Get(consentSubmitField)

	req, err := oidc.ParseAuthorizationRequest(values)
	if err != nil {
		h.protocolError(c, err)
		return
	}

	ctx := requestContext(c)
	session, _ := middleware.SessionFromContext(c)

	var result *oidc.AuthorizeResult
	switch decision {
	case "":
		result, err = h.engine.Authorize(ctx, req, session)
	case consentAccept:
		result, err = h.engine.Accept(ctx, req, session)
	case consentDeny:
		result, err = h.engine.Deny(ctx, req)
	default:
		h.protocolError(c, &oidc.Error{Code: oidc.ErrorInvalidRequest, Description: "The consent decision is not recognised.", Status: http.StatusBadRequest})
		return
	}
	h.respondAuthorize(c, result, err)
}

// IsConsentDecision reports whether c posts a consent decision rather than a
// plain authorization request.
func IsConsentDecision(c *gin.Context) bool {
	if c.Request.Method != http.MethodPost {
		return false
	}
	return c.PostForm(consentSubmitField) != ""
}

func (h *OIDCHandler) respondAuthorize(c *gin.Context, result *oidc.AuthorizeResult, err error) {
	if err != nil {
		h.protocolError(c, err)
		return
	}

	switch result.Outcome {
	case oidc.OutcomeChallenge:
		returnURL := oidc.PathAuthorize + "?" + result.Challenge.Encode()
		c.Redirect(http.StatusFound, h.loginPath+"?"+url.Values{"returnUrl": {returnURL}}.Encode())
	case oidc.OutcomeConsent:
		c.JSON(http.StatusOK, result.Consent)
	default:
		c.Redirect(http.StatusFound, result.RedirectURL)
	}
}

// POST /connect/token
func (h *OIDCHandler) Token(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.protocolError(c, &oidc.Error{Code: oidc.ErrorInvalidRequest, Description: "The request body is malformed.", Status: http.StatusBadRequest})
		return
	}
	form := c.Request.PostForm

	req := oidc.TokenRequest{
		GrantType:    form.Get("grant_type"),
		Code:         form.Get("code"),
		RedirectURI:  form.Get("redirect_uri"),
		CodeVerifier: form.Get("code_verifier"),
		RefreshToken: form.Get("refresh_token"),
		Scope:        form.Get("scope"),
		ClientID:     form.Get("client_id"),
		ClientSecret: form.Get("client_secret"),
	}

	basic := false
	if id, secret, ok := c.Request.BasicAuth(); ok {
		basic = true
		req.ClientID = unescapeCredential(id)
		req.ClientSecret = unescapeCredential(secret)
	}

	resp, err := h.engine.Exchange(requestContext(c), req)
	if err != nil {
		if basic && oidc.IsCode(err, oidc.ErrorInvalidClient) {
			c.Header("WWW-Authenticate", `Basic realm="token"`)
		}
		h.protocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET|POST /connect/userinfo
func (h *OIDCHandler) UserInfo(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" && c.Request.Method == http.MethodPost {
		token = c.PostForm("access_token")
	}

	claims, err := h.engine.UserInfo(requestContext(c), token)
	if err != nil {
		var oerr *oidc.Error
		if errors.As(err, &oerr) {
			c.Header("WWW-Authenticate", `Bearer error="`+oerr.Code+`"`)
		}
		h.protocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, claims)
}

// GET|POST /connect/logout
func (h *OIDCHandler) Logout(c *gin.Context) {
	_ = c.Request.ParseForm()
	target, err := h.engine.EndSession(requestContext(c), c.Request.Form)
	if err != nil {
		h.protocolError(c, err)
		return
	}

	if session, ok := middleware.SessionFromContext(c); ok {
		if err := h.login.SignOut(requestContext(c), session, sessionMeta(c)); err != nil {
			h.log.Warn("sign out failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	middleware.ClearSessionCookie(c)

	if target == "" {
		c.JSON(http.StatusOK, gin.H{"signed_out": true})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// GET /.well-known/openid-configuration
func (h *OIDCHandler) Discovery(c *gin.Context) {
	doc, err := h.engine.Discovery(requestContext(c))
	if err != nil {
		h.protocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GET /.well-known/jwks
func (h *OIDCHandler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Signer().JWKS())
}

func (h *OIDCHandler) protocolError(c *gin.Context, err error) {
	var oerr *oidc.Error
	if !errors.As(err, &oerr) {
		h.log.Error("authorization server failure", zap.String("path", c.FullPath()), zap.Error(err))
		oerr = &oidc.Error{Code: oidc.ErrorServerError, Description: "An internal error occurred.", Status: http.StatusInternalServerError}
	}
	status := oerr.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	body := gin.H{"error": oerr.Code}
	if oerr.Description != "" {
		body["error_description"] = oerr.Description
	}
	c.AbortWithStatusJSON(status, body)
}

func authorizationValues(form url.Values) url.Values {
	values := make(url.Values, len(form))
	for key, list := range form {
		if key == consentSubmitField || key == middleware.CSRFFormField {
			continue
		}
		values[key] = append([]string(nil), list...)
	}
	return values
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// unescapeCredential decodes client credentials that were form-encoded before
// being placed in the basic authorization header.
func unescapeCredential(value string) string {
	if decoded, err := url.QueryUnescape(value); err == nil {
		return decoded
	}
	return value
}
