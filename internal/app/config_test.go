package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/verification"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, "/account/login", cfg.Server.LoginPath)
	require.Equal(t, 10, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)
	require.True(t, cfg.Server.CSRF.Enabled)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "session-secret", cfg.Auth.Session.Secret)
	require.Equal(t, 24*time.Hour, cfg.Auth.Session.TTL)
	require.Equal(t, 7, cfg.Auth.Lockout.Threshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Lockout.Duration)

	require.Equal(t, 6, cfg.Verification.CodeLength)
	require.Equal(t, 3, cfg.Verification.MaxAttempts)
	require.Equal(t, 2*time.Minute, cfg.Verification.ResendCooldown)
	require.Equal(t, 10*time.Minute, cfg.Verification.CodeLifetime)

	require.Equal(t, "https://id.example.com", cfg.OIDC.Issuer)
	require.Equal(t, time.Hour, cfg.OIDC.AccessTokenTTL)
	require.Len(t, cfg.OIDC.Scopes, 1)
	require.Equal(t, []string{"resource-server"}, cfg.OIDC.Scopes[0].Resources)
	require.Len(t, cfg.OIDC.Clients, 1)
	client := cfg.OIDC.Clients[0]
	require.Equal(t, "web", client.ClientID)
	require.Equal(t, "explicit", client.ConsentType)
	require.Equal(t, []string{"https://app.example.com/callback"}, client.RedirectURIs)
	require.Equal(t, []string{"https://app.example.com/"}, client.PostLogoutRedirectURIs)

	require.Equal(t, "Example ID", cfg.Mail.SiteName)
	require.True(t, cfg.Mail.SMTP.Enabled)
	require.Equal(t, 2525, cfg.Mail.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Mail.SMTP.Timeout)
	require.Equal(t, 5, cfg.Mail.MaxRetries)
	require.Equal(t, 10*time.Second, cfg.Mail.RetryBaseDelay)
	require.Equal(t, time.Hour, cfg.Mail.RetryMaxDelay)

	require.Equal(t, 30*time.Minute, cfg.Maintenance.CleanupInterval)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)
	require.Equal(t, 168*time.Hour, cfg.Maintenance.DeadLetterRetention)
}

func TestLoadConfigDefaultsAndEnvironment(t *testing.T) {
	t.Setenv("IDCORE_SERVER_PORT", "9443")
	t.Setenv("IDCORE_OIDC_ISSUER", "https://login.example.org")
	t.Setenv("IDCORE_VERIFICATION_MAX_ATTEMPTS", "9")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9443, cfg.Server.Port)
	require.Equal(t, "https://login.example.org", cfg.OIDC.Issuer)
	require.Equal(t, 9, cfg.Verification.MaxAttempts)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 336*time.Hour, cfg.Auth.Session.TTL)
	require.Equal(t, 8, cfg.Verification.CodeLength)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{
		Session: SessionSettings{Secret: "secret", TTL: 2 * time.Hour},
		Lockout: LockoutSettings{Threshold: 3, Duration: time.Minute},
	}

	jwtCfg := cfg.JWTServiceConfig("https://id.example.com")
	require.Equal(t, "secret", jwtCfg.Secret)
	require.Equal(t, "https://id.example.com", jwtCfg.Issuer)
	require.Equal(t, 2*time.Hour, jwtCfg.TTL)
	require.Equal(t, 7200, cfg.SessionCookieMaxAge())

	loginCfg := cfg.LoginConfig()
	require.Equal(t, 3, loginCfg.LockoutThreshold)
	require.Equal(t, time.Minute, loginCfg.LockoutDuration)

	empty := AuthConfig{}
	require.Equal(t, auth.DefaultSessionTTL, empty.JWTServiceConfig("").TTL)
	require.Equal(t, auth.DefaultLockoutThreshold, empty.LoginConfig().LockoutThreshold)
	require.Equal(t, auth.DefaultLockoutDuration, empty.LoginConfig().LockoutDuration)
}

func TestWorkflowConfigAdapters(t *testing.T) {
	policy := VerificationConfig{CodeLength: 6, MaxAttempts: 4}.Policy()
	require.Equal(t, 6, policy.CodeLength)
	require.Equal(t, 4, policy.MaxAttempts)
	require.Equal(t, verification.DefaultPolicy().CodeLifetime, policy.CodeLifetime)

	require.Equal(t, identity.DefaultPasswordPolicy(), PasswordConfig{}.Policy())
	custom := PasswordConfig{RequiredLength: 12, RequireDigit: true}.Policy()
	require.Equal(t, 12, custom.RequiredLength)
	require.True(t, custom.RequireDigit)
	require.False(t, custom.RequireUppercase)
	require.Equal(t, identity.DefaultPasswordPolicy().MaxLength, custom.MaxLength)

	cleaner := MaintenanceConfig{PendingGrace: time.Hour}.CleanerConfig(verification.Policy{CodeLifetime: 3 * time.Minute})
	require.Equal(t, time.Hour, cleaner.PendingGrace)
	require.Equal(t, 3*time.Minute, cleaner.CodeLifetime)

	queue := MailConfig{MaxRetries: 2, RetryBaseDelay: time.Second}.QueueConfig()
	require.Equal(t, 2, queue.MaxRetries)
	require.Equal(t, time.Second, queue.BaseDelay)
}
