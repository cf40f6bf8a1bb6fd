package app

import (
	"time"

	"github.com/charlesng35/idcore/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters of the session token signer.
func (c AuthConfig) JWTServiceConfig(issuer string) auth.JWTConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	return auth.JWTConfig{
		Secret: c.Session.Secret,
		Issuer: issuer,
		TTL:    ttl,
	}
}

// LoginConfig converts the lockout settings into LoginService parameters.
func (c AuthConfig) LoginConfig() auth.LoginConfig {
	threshold := c.Lockout.Threshold
	if threshold <= 0 {
		threshold = auth.DefaultLockoutThreshold
	}

	duration := c.Lockout.Duration
	if duration <= 0 {
		duration = auth.DefaultLockoutDuration
	}

	return auth.LoginConfig{
		LockoutThreshold: threshold,
		LockoutDuration:  duration,
	}
}

// SessionCookieMaxAge returns the cookie lifetime in whole seconds.
func (c AuthConfig) SessionCookieMaxAge() int {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}
	return int(ttl / time.Second)
}
