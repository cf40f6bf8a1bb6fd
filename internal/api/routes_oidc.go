package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idcore/internal/app"
	"github.com/charlesng35/idcore/internal/handlers"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/oidc"
)

func registerOIDCRoutes(r *gin.Engine, deps Dependencies) {
	handler := handlers.NewOIDCHandler(deps.Engine, deps.Login, deps.Config.Server.LoginPath)

	r.GET(oidc.PathDiscovery, handler.Discovery)
	r.GET(oidc.PathJWKS, handler.JWKS)

	// Only the consent decision carries the CSRF token; relying parties may
	// post plain authorization requests.
	authorize := r.Group(oidc.PathAuthorize, consentCSRFProtection(deps.Config))
	{
		authorize.GET("", handler.Authorize)
		authorize.POST("", handler.Decide)
	}

	noStore := middleware.NoStore()
	r.POST(oidc.PathToken, noStore, handler.Token)
	r.GET(oidc.PathUserInfo, noStore, handler.UserInfo)
	r.POST(oidc.PathUserInfo, noStore, handler.UserInfo)

	r.GET(oidc.PathLogout, handler.Logout)
	r.POST(oidc.PathLogout, handler.Logout)
}

func consentCSRFProtection(cfg *app.Config) gin.HandlerFunc {
	if cfg.Server.CSRF.Enabled {
		return middleware.CSRFUnless(func(c *gin.Context) bool {
			return c.Request.Method == http.MethodPost && !handlers.IsConsentDecision(c)
		})
	}
	return func(c *gin.Context) { c.Next() }
}
