package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/app"
	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/monitoring"
	"github.com/charlesng35/idcore/internal/monitoring/checks"
	"github.com/charlesng35/idcore/internal/oidc"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
)

// Dependencies carries the services the HTTP surface is built on.
type Dependencies struct {
	DB           *gorm.DB
	Config       *app.Config
	Accounts     *store.CredentialStore
	Sessions     *iauth.SessionService
	Login        *iauth.LoginService
	Registration *services.RegistrationService
	Recovery     *services.RecoveryService
	Engine       *oidc.Engine
	// RateStore backs the account rate limiter; nil selects an in-process store.
	RateStore middleware.RateStore
	// Health runs the readiness probes; nil probes the database only.
	Health *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.Accounts == nil:
		return fmt.Errorf("credential store must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.Login == nil:
		return fmt.Errorf("login service must be provided")
	case d.Registration == nil:
		return fmt.Errorf("registration service must be provided")
	case d.Recovery == nil:
		return fmt.Errorf("recovery service must be provided")
	case d.Engine == nil:
		return fmt.Errorf("authorization engine must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the account,
// authorization server and health routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.HSTS))
	r.Use(middleware.LoadSession(deps.Sessions))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager(0)
		health.Register(checks.Database(deps.DB))
	}

	registerHealthRoutes(r, health)
	registerOIDCRoutes(r, deps)
	registerAccountRoutes(r, deps)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func csrfProtection(cfg *app.Config) gin.HandlerFunc {
	if cfg.Server.CSRF.Enabled {
		return middleware.CSRF()
	}
	return func(c *gin.Context) { c.Next() }
}
