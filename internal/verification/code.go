// Package verification holds the pure rules shared by every numeric-code
// flow: code generation, resend cooldowns, expiry and attempt accounting.
package verification

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/charlesng35/idcore/pkg/crypto"
)

const (
	DefaultCodeLength     = 8
	DefaultMaxAttempts    = 5
	DefaultResendCooldown = 60 * time.Second
	DefaultCodeLifetime   = 10 * time.Minute
)

var ten = big.NewInt(10)

// Policy captures the tunables of a code flow.
type Policy struct {
	CodeLength     int
	MaxAttempts    int
	ResendCooldown time.Duration
	CodeLifetime   time.Duration
}

// DefaultPolicy returns the canonical policy: 8 digits, 5 attempts, 60s cooldown, 10 minute lifetime.
func DefaultPolicy() Policy {
	return Policy{
		CodeLength:     DefaultCodeLength,
		MaxAttempts:    DefaultMaxAttempts,
		ResendCooldown: DefaultResendCooldown,
		CodeLifetime:   DefaultCodeLifetime,
	}
}

// Normalize replaces non-positive values with defaults.
func (p Policy) Normalize() Policy {
	if p.CodeLength <= 0 {
		p.CodeLength = DefaultCodeLength
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.ResendCooldown <= 0 {
		p.ResendCooldown = DefaultResendCooldown
	}
	if p.CodeLifetime <= 0 {
		p.CodeLifetime = DefaultCodeLifetime
	}
	return p
}

// Generate returns a fresh code of the policy length.
func (p Policy) Generate() (string, error) {
	return Generate(p.Normalize().CodeLength)
}

// Exhausted reports whether the failed-attempt counter has reached the limit.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.Normalize().MaxAttempts
}

// RemainingAttempts returns how many wrong guesses are still allowed.
func (p Policy) RemainingAttempts(attempts int) int {
	left := p.Normalize().MaxAttempts - attempts
	if left < 0 {
		return 0
	}
	return left
}

// Cooldown returns the time left before another code may be issued.
func (p Policy) Cooldown(now, lastSent time.Time) time.Duration {
	return RemainingCooldown(now, lastSent, p.Normalize().ResendCooldown)
}

// Expired reports whether a code issued at issued is past the policy lifetime.
func (p Policy) Expired(now, issued time.Time) bool {
	return IsExpired(now, issued, p.Normalize().CodeLifetime)
}

// Generate returns length uniformly distributed decimal digits from a CSPRNG.
func Generate(length int) (string, error) {
	return generate(rand.Reader, length)
}

func generate(source io.Reader, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("verification: invalid code length %d", length)
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(source, ten)
		if err != nil {
			return "", fmt.Errorf("verification: generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// RemainingCooldown returns max(0, cooldown - (now - lastSent)). A zero
// lastSent means nothing was ever sent.
func RemainingCooldown(now, lastSent time.Time, cooldown time.Duration) time.Duration {
	if lastSent.IsZero() || cooldown <= 0 {
		return 0
	}
	remaining := cooldown - now.Sub(lastSent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports now - issued > lifetime.
func IsExpired(now, issued time.Time, lifetime time.Duration) bool {
	return now.Sub(issued) > lifetime
}

// Matches compares a stored code with user input in constant time.
func Matches(expected, candidate string) bool {
	if expected == "" {
		return false
	}
	return crypto.Equal(expected, strings.TrimSpace(candidate))
}
