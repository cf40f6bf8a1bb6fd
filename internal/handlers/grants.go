package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/oidc"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/response"
)

// GrantsHandler lets a signed-in user review and revoke application grants.
type GrantsHandler struct {
	engine *oidc.Engine
}

func NewGrantsHandler(engine *oidc.Engine) *GrantsHandler {
	return &GrantsHandler{engine: engine}
}

type revokeGrantRequest struct {
	GrantID string `json:"grant_id" form:"grant_id" validate:"required"`
}

// GET /account/grants
func (h *GrantsHandler) List(c *gin.Context) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	grants, err := h.engine.ListGrants(requestContext(c), session.AccountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if grants == nil {
		grants = []oidc.GrantView{}
	}
	response.Success(c, http.StatusOK, grants)
}

// POST /account/grants/revoke
func (h *GrantsHandler) Revoke(c *gin.Context) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req revokeGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.engine.RevokeGrant(requestContext(c), session.AccountID, req.GrantID, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": req.GrantID})
}
