package app

import (
	"github.com/charlesng35/idcore/internal/app/maintenance"
	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/oidc"
	"github.com/charlesng35/idcore/internal/verification"
)

// Policy converts VerificationConfig into a code policy shared by
// registration and recovery.
func (c VerificationConfig) Policy() verification.Policy {
	return verification.Policy{
		CodeLength:     c.CodeLength,
		MaxAttempts:    c.MaxAttempts,
		ResendCooldown: c.ResendCooldown,
		CodeLifetime:   c.CodeLifetime,
	}.Normalize()
}

// Policy converts PasswordConfig into identity rules. An empty section keeps
// the default policy.
func (c PasswordConfig) Policy() identity.PasswordPolicy {
	if c == (PasswordConfig{}) {
		return identity.DefaultPasswordPolicy()
	}
	policy := identity.PasswordPolicy{
		RequiredLength:         c.RequiredLength,
		MaxLength:              c.MaxLength,
		RequireDigit:           c.RequireDigit,
		RequireLowercase:       c.RequireLowercase,
		RequireUppercase:       c.RequireUppercase,
		RequireNonAlphanumeric: c.RequireNonAlphanumeric,
		RequiredUniqueChars:    c.RequiredUniqueChars,
	}
	if policy.MaxLength <= 0 {
		policy.MaxLength = identity.DefaultPasswordPolicy().MaxLength
	}
	return policy
}

// EngineConfig converts OIDCConfig into authorization engine parameters.
func (c OIDCConfig) EngineConfig() oidc.Config {
	return oidc.Config{
		Issuer:           c.Issuer,
		AccessTokenTTL:   c.AccessTokenTTL,
		IdentityTokenTTL: c.IdentityTokenTTL,
		CodeTTL:          c.CodeTTL,
		RefreshTokenTTL:  c.RefreshTokenTTL,
	}
}

// CleanerConfig converts MaintenanceConfig into cleaner parameters. Pending
// registrations are kept for the code lifetime plus the grace window.
func (c MaintenanceConfig) CleanerConfig(codes verification.Policy) maintenance.Config {
	return maintenance.Config{
		Interval:            c.CleanupInterval,
		CodeLifetime:        codes.CodeLifetime,
		PendingGrace:        c.PendingGrace,
		RecoveryRetention:   c.RecoveryRetention,
		DeadLetterRetention: c.DeadLetterRetention,
		StuckSendingAfter:   c.StuckSendingAfter,
		AuditRetentionDays:  c.AuditRetentionDays,
	}
}
