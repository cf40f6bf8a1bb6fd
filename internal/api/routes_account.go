package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idcore/internal/handlers"
	"github.com/charlesng35/idcore/internal/middleware"
)

func registerAccountRoutes(r *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	accountHandler := handlers.NewAccountHandler(deps.Registration, deps.Login, deps.Accounts, deps.Sessions.TTL())
	recoveryHandler := handlers.NewRecoveryHandler(deps.Recovery)
	grantsHandler := handlers.NewGrantsHandler(deps.Engine)

	store := deps.RateStore
	if store == nil {
		store = middleware.NewMemoryRateStore()
	}
	limited := middleware.RateLimit(store, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)

	account := r.Group("/account", middleware.NoStore(), csrfProtection(cfg))
	{
		account.POST("/register", limited, accountHandler.Register)
		account.POST("/confirm", limited, accountHandler.Confirm)
		account.POST("/resend", limited, accountHandler.Resend)
		account.POST("/login", limited, accountHandler.Login)
		account.POST("/logout", accountHandler.Logout)
		account.GET("/me", middleware.RequireSession(), accountHandler.Me)
	}

	recovery := account.Group("/recovery", limited)
	{
		recovery.POST("/request", recoveryHandler.Request)
		recovery.POST("/resend", recoveryHandler.Resend)
		recovery.POST("/verify", recoveryHandler.Verify)
		recovery.POST("/reset", recoveryHandler.Reset)
	}

	grants := account.Group("/grants", middleware.RequireSession())
	{
		grants.GET("", grantsHandler.List)
		grants.POST("/revoke", grantsHandler.Revoke)
	}

}
