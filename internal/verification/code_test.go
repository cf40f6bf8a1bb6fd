package verification

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := Generate(8)
		require.NoError(t, err)
		require.Len(t, code, 8)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "unexpected rune %q", r)
		}
	}
}

func TestGenerateRejectsInvalidLength(t *testing.T) {
	_, err := Generate(0)
	require.Error(t, err)
}

func TestGenerateFailsWhenSourceExhausted(t *testing.T) {
	_, err := generate(bytes.NewReader(nil), 8)
	require.Error(t, err)
}

func TestGenerateCoversAllDigits(t *testing.T) {
	seen := map[rune]int{}
	for i := 0; i < 200; i++ {
		code, err := Generate(8)
		require.NoError(t, err)
		for _, r := range code {
			seen[r]++
		}
	}
	require.Len(t, seen, 10)
}

func TestRemainingCooldown(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 45*time.Second, RemainingCooldown(now, now.Add(-15*time.Second), time.Minute))
	require.Zero(t, RemainingCooldown(now, now.Add(-2*time.Minute), time.Minute))
	require.Zero(t, RemainingCooldown(now, time.Time{}, time.Minute))
	require.Zero(t, RemainingCooldown(now, now.Add(-time.Minute), time.Minute))
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.False(t, IsExpired(now, now.Add(-10*time.Minute), 10*time.Minute))
	require.True(t, IsExpired(now, now.Add(-10*time.Minute-time.Second), 10*time.Minute))
}

func TestPolicyAttempts(t *testing.T) {
	p := DefaultPolicy()

	require.False(t, p.Exhausted(4))
	require.True(t, p.Exhausted(5))
	require.Equal(t, 1, p.RemainingAttempts(4))
	require.Zero(t, p.RemainingAttempts(9))
}

func TestPolicyNormalize(t *testing.T) {
	p := Policy{MaxAttempts: 3}.Normalize()

	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, DefaultCodeLength, p.CodeLength)
	require.Equal(t, DefaultResendCooldown, p.ResendCooldown)
	require.Equal(t, DefaultCodeLifetime, p.CodeLifetime)
}

func TestMatches(t *testing.T) {
	require.True(t, Matches("12345678", " 12345678 "))
	require.False(t, Matches("12345678", "12345670"))
	require.False(t, Matches("", ""))
}
