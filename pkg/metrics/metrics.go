package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records password sign-in attempts by result (success|failure|locked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_auth_attempts_total",
			Help: "Total number of password sign-in attempts",
		},
		[]string{"result"},
	)

	// Registrations counts registration workflow transitions (created|confirmed|invalid_code|blocked|expired|resent).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_registrations_total",
			Help: "Registration workflow transitions",
		},
		[]string{"outcome"},
	)

	// Recoveries counts recovery workflow transitions (requested|verified|invalid_code|exhausted|expired|reset).
	Recoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_recoveries_total",
			Help: "Password recovery workflow transitions",
		},
		[]string{"outcome"},
	)

	// Authorizations counts authorization endpoint outcomes (challenge|consent|issued|denied|error).
	Authorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_oidc_authorizations_total",
			Help: "OIDC authorization request outcomes",
		},
		[]string{"outcome"},
	)

	// TokensIssued counts token endpoint responses by grant type and result.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_oidc_tokens_total",
			Help: "OIDC token endpoint responses",
		},
		[]string{"grant_type", "result"},
	)

	// MailDeliveries counts outbound mail delivery attempts (sent|retry|dead|released).
	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_mail_deliveries_total",
			Help: "Outbound mail delivery attempts",
		},
		[]string{"result"},
	)

	// MailQueueDepth tracks messages waiting for delivery at the last dispatch cycle.
	MailQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idcore_mail_queue_depth",
			Help: "Outbound messages awaiting delivery",
		},
	)

	// CleanupRemovals counts rows removed or reset by the maintenance jobs.
	CleanupRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcore_cleanup_removals_total",
			Help: "Rows removed or reset by maintenance jobs",
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcore_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
