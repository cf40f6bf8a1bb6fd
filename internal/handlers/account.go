package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/response"
)

const resendByEmailMessage = "If a registration is waiting for this address, a new code has been sent."

// AccountHandler serves registration, confirmation and cookie sign-in.
type AccountHandler struct {
	registration *services.RegistrationService
	login        *iauth.LoginService
	accounts     *store.CredentialStore
	cookieMaxAge int
}

func NewAccountHandler(registration *services.RegistrationService, login *iauth.LoginService, accounts *store.CredentialStore, sessionTTL time.Duration) *AccountHandler {
	return &AccountHandler{
		registration: registration,
		login:        login,
		accounts:     accounts,
		cookieMaxAge: int(sessionTTL / time.Second),
	}
}

type registerRequest struct {
	Username string `json:"username" form:"username" validate:"required,max=256"`
	Email    string `json:"email" form:"email" validate:"required,max=256"`
	Password string `json:"password" form:"password" validate:"required"`
}

type confirmRequest struct {
	PendingID string `json:"pending_id" form:"pending_id" validate:"required"`
	Code      string `json:"code" form:"code" validate:"required,max=32"`
	ReturnURL string `json:"return_url" form:"returnUrl"`
}

type resendRequest struct {
	PendingID string `json:"pending_id" form:"pending_id"`
	Email     string `json:"email" form:"email"`
}

type loginRequest struct {
	Identifier string `json:"identifier" form:"identifier" validate:"required"`
	Password   string `json:"password" form:"password" validate:"required"`
	ReturnURL  string `json:"return_url" form:"returnUrl"`
}

type accountView struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	EmailConfirmed bool       `json:"email_confirmed"`
	Roles          []string   `json:"roles"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

func newAccountView(account *models.Account) accountView {
	return accountView{
		ID:             account.ID,
		Username:       account.Username,
		Email:          account.Email,
		EmailConfirmed: account.EmailConfirmed,
		Roles:          account.RoleNames(),
		LastLoginAt:    account.LastLoginAt,
	}
}

// POST /account/register
func (h *AccountHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pendingID, err := h.registration.Register(requestContext(c), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"pending_id": pendingID})
}

// POST /account/confirm
func (h *AccountHandler) Confirm(c *gin.Context) {
	var req confirmRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.registration.Confirm(requestContext(c), req.PendingID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.login.SignIn(requestContext(c), account, sessionMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetSessionCookie(c, result.Token, h.cookieMaxAge)

	response.Success(c, http.StatusOK, gin.H{
		"account":    newAccountView(result.Account),
		"return_url": localReturnURL(req.ReturnURL),
	})
}

// POST /account/resend
func (h *AccountHandler) Resend(c *gin.Context) {
	var req resendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	switch {
	case req.PendingID != "":
		if err := h.registration.ResendByID(ctx, req.PendingID); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusAccepted, gin.H{"pending_id": req.PendingID})
	case req.Email != "":
		if err := h.registration.ResendByEmail(ctx, req.Email); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusAccepted, gin.H{"message": resendByEmailMessage})
	default:
		response.Error(c, appErrors.NewValidation(appErrors.FieldError{
			Field:   "pending_id",
			Code:    "required",
			Message: "pending_id or email is required",
		}))
	}
}

// POST /account/login
func (h *AccountHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.login.PasswordSignIn(requestContext(c), req.Identifier, req.Password, sessionMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetSessionCookie(c, result.Token, h.cookieMaxAge)

	response.Success(c, http.StatusOK, gin.H{
		"account":    newAccountView(result.Account),
		"return_url": localReturnURL(req.ReturnURL),
	})
}

// POST /account/logout
func (h *AccountHandler) Logout(c *gin.Context) {
	if session, ok := middleware.SessionFromContext(c); ok {
		if err := h.login.SignOut(requestContext(c), session, sessionMeta(c)); err != nil {
			response.Error(c, err)
			return
		}
	}
	middleware.ClearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"signed_out": true})
}

// GET /account/me
func (h *AccountHandler) Me(c *gin.Context) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	account, err := h.accounts.FindAccountByID(requestContext(c), session.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			middleware.ClearSessionCookie(c)
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"account":    newAccountView(account),
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
	})
}
