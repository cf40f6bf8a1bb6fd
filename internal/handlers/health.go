package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/monitoring"
	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/response"
)

// Health returns a simple status payload useful for liveness checks.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readiness evaluates the registered dependency probes. Degraded dependencies
// still report ready.
func Readiness(health *monitoring.HealthManager) gin.HandlerFunc {
	log := logger.WithModule("health")
	return func(c *gin.Context) {
		report := health.Evaluate(requestContext(c))
		if !report.Ready {
			for _, check := range report.Checks {
				if check.Status == monitoring.StatusDown {
					log.Warn("readiness probe failed", zap.String("component", check.Component), zap.String("details", check.Details))
				}
			}
			response.Error(c, appErrors.New("NOT_READY", "Dependencies unavailable", http.StatusServiceUnavailable))
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
