package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/pkg/response"
)

// RecoveryHandler serves the password reset flow. Responses never reveal
// whether an address belongs to an account.
type RecoveryHandler struct {
	recovery *services.RecoveryService
}

func NewRecoveryHandler(recovery *services.RecoveryService) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery}
}

type recoveryEmailRequest struct {
	Email string `json:"email" form:"email" validate:"required,max=256"`
}

type recoveryVerifyRequest struct {
	Email string `json:"email" form:"email" validate:"required,max=256"`
	Code  string `json:"code" form:"code" validate:"required,max=32"`
}

type recoveryResetRequest struct {
	Email    string `json:"email" form:"email" validate:"required,max=256"`
	Token    string `json:"token" form:"token" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// POST /account/recovery/request
func (h *RecoveryHandler) Request(c *gin.Context) {
	var req recoveryEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.recovery.RequestReset(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"email": req.Email})
}

// POST /account/recovery/resend
func (h *RecoveryHandler) Resend(c *gin.Context) {
	var req recoveryEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.recovery.ResendCode(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"email": req.Email})
}

// POST /account/recovery/verify
func (h *RecoveryHandler) Verify(c *gin.Context) {
	var req recoveryVerifyRequest
	if !bindAndValidate(c, &req) {
		return
	}
	token, err := h.recovery.VerifyCode(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"email": req.Email, "token": token})
}

// POST /account/recovery/reset
func (h *RecoveryHandler) Reset(c *gin.Context) {
	var req recoveryResetRequest
	if !bindAndValidate(c, &req) {
		return
	}
	err := h.recovery.ResetPassword(requestContext(c), services.ResetPasswordInput{
		Email:       req.Email,
		Token:       req.Token,
		NewPassword: req.Password,
		Meta:        requestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}
