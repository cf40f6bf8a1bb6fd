package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/idcore/internal/oidc"
)

// Config represents the runtime configuration of the identity server.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	Password     PasswordConfig     `mapstructure:"password"`
	OIDC         OIDCConfig         `mapstructure:"oidc"`
	Mail         MailConfig         `mapstructure:"mail"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	BaseURL   string          `mapstructure:"base_url"`
	LoginPath string          `mapstructure:"login_path"`
	HSTS      bool            `mapstructure:"hsts"`
	CSRF      CSRFConfig      `mapstructure:"csrf"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CSRFConfig controls CSRF protection of the cookie-authenticated routes.
type CSRFConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RateLimitConfig bounds anonymous account requests per client ip and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures browser session and sign-in settings.
type AuthConfig struct {
	Session SessionSettings `mapstructure:"session"`
	Lockout LockoutSettings `mapstructure:"lockout"`
}

// SessionSettings configures the signed session cookie.
type SessionSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LockoutSettings defines failed password attempt limits.
type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// VerificationConfig tunes registration and recovery codes.
type VerificationConfig struct {
	CodeLength     int           `mapstructure:"code_length"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	CodeLifetime   time.Duration `mapstructure:"code_lifetime"`
	ResetTokenTTL  time.Duration `mapstructure:"reset_token_ttl"`
}

// PasswordConfig mirrors identity.PasswordPolicy.
type PasswordConfig struct {
	RequiredLength         int  `mapstructure:"required_length"`
	MaxLength              int  `mapstructure:"max_length"`
	RequireDigit           bool `mapstructure:"require_digit"`
	RequireLowercase       bool `mapstructure:"require_lowercase"`
	RequireUppercase       bool `mapstructure:"require_uppercase"`
	RequireNonAlphanumeric bool `mapstructure:"require_non_alphanumeric"`
	RequiredUniqueChars    int  `mapstructure:"required_unique_chars"`
}

// OIDCConfig configures the authorization server.
type OIDCConfig struct {
	Issuer           string            `mapstructure:"issuer"`
	AccessTokenTTL   time.Duration     `mapstructure:"access_token_ttl"`
	IdentityTokenTTL time.Duration     `mapstructure:"identity_token_ttl"`
	CodeTTL          time.Duration     `mapstructure:"code_ttl"`
	RefreshTokenTTL  time.Duration     `mapstructure:"refresh_token_ttl"`
	KeyEncryptionKey string            `mapstructure:"key_encryption_key"`
	Clients          []oidc.ClientSeed `mapstructure:"clients"`
	Scopes           []oidc.ScopeSeed  `mapstructure:"scopes"`
}

// MailConfig captures SMTP delivery and queue settings.
type MailConfig struct {
	SiteName           string        `mapstructure:"site_name"`
	SMTP               SMTPConfig    `mapstructure:"smtp"`
	ProcessingInterval time.Duration `mapstructure:"processing_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	BatchSize          int           `mapstructure:"batch_size"`
	Parallelism        int           `mapstructure:"parallelism"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig tunes the cleanup scheduler.
type MaintenanceConfig struct {
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	PendingGrace        time.Duration `mapstructure:"pending_grace"`
	RecoveryRetention   time.Duration `mapstructure:"recovery_retention"`
	DeadLetterRetention time.Duration `mapstructure:"dead_letter_retention"`
	StuckSendingAfter   time.Duration `mapstructure:"stuck_sending_after"`
	AuditRetentionDays  int           `mapstructure:"audit_retention_days"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig reads config.yaml from ./config and the supplied paths, applies
// defaults and IDCORE_* environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("IDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if strings.TrimSpace(config.OIDC.Issuer) == "" {
		config.OIDC.Issuer = strings.TrimRight(strings.TrimSpace(config.Server.BaseURL), "/")
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.login_path", "/account/login")
	v.SetDefault("server.hsts", false)
	v.SetDefault("server.csrf.enabled", true)
	v.SetDefault("server.rate_limit.requests", 30)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/idcore.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.session.secret", "")
	v.SetDefault("auth.session.ttl", "336h")
	v.SetDefault("auth.lockout.threshold", 5)
	v.SetDefault("auth.lockout.duration", "5m")

	v.SetDefault("verification.code_length", 8)
	v.SetDefault("verification.max_attempts", 5)
	v.SetDefault("verification.resend_cooldown", "60s")
	v.SetDefault("verification.code_lifetime", "10m")
	v.SetDefault("verification.reset_token_ttl", "1h")

	v.SetDefault("password.required_length", 6)
	v.SetDefault("password.max_length", 100)
	v.SetDefault("password.require_digit", true)
	v.SetDefault("password.require_lowercase", true)
	v.SetDefault("password.require_uppercase", true)
	v.SetDefault("password.require_non_alphanumeric", true)
	v.SetDefault("password.required_unique_chars", 1)

	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.key_encryption_key", "")
	v.SetDefault("oidc.access_token_ttl", "1h")
	v.SetDefault("oidc.identity_token_ttl", "20m")
	v.SetDefault("oidc.code_ttl", "5m")
	v.SetDefault("oidc.refresh_token_ttl", "336h")

	v.SetDefault("mail.site_name", "idcore")
	v.SetDefault("mail.smtp.enabled", false)
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.use_tls", true)
	v.SetDefault("mail.smtp.timeout", "10s")
	v.SetDefault("mail.processing_interval", "10s")
	v.SetDefault("mail.max_retries", 3)
	v.SetDefault("mail.retry_base_delay", "5s")
	v.SetDefault("mail.retry_max_delay", "1h")
	v.SetDefault("mail.batch_size", 100)
	v.SetDefault("mail.parallelism", 0)
	v.SetDefault("mail.send_timeout", "30s")

	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.pending_grace", "24h")
	v.SetDefault("maintenance.recovery_retention", "24h")
	v.SetDefault("maintenance.dead_letter_retention", "168h")
	v.SetDefault("maintenance.stuck_sending_after", "10m")
	v.SetDefault("maintenance.audit_retention_days", 90)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
