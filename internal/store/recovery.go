package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/verification"
)

// RecoveryOutcome classifies a recovery code check.
type RecoveryOutcome int

const (
	RecoveryNoCode RecoveryOutcome = iota
	RecoveryExpired
	RecoveryMismatch
	RecoveryExhausted
	RecoveryMatched
)

// FindRecoveryByEmail loads the recovery record for an email.
func (s *CredentialStore) FindRecoveryByEmail(ctx context.Context, email string) (*models.RecoveryRequest, error) {
	var request models.RecoveryRequest
	if err := s.db.WithContext(ctx).Take(&request, "email = ?", models.Normalize(email)).Error; err != nil {
		return nil, translate(err)
	}
	return &request, nil
}

// UpsertRecoveryRequest records an issuance for email when the cooldown has
// elapsed. The cooldown anchor is always moved; code may be nil when no
// confirmed account owns the address. A positive duration means the cooldown
// was still active and nothing changed.
func (s *CredentialStore) UpsertRecoveryRequest(ctx context.Context, email string, code *string, now time.Time, cooldown, lifetime time.Duration) (time.Duration, error) {
	key := models.Normalize(email)
	var remaining time.Duration

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var expires *time.Time
		if code != nil {
			at := now.Add(lifetime)
			expires = &at
		}

		var request models.RecoveryRequest
		err := forUpdate(tx).Take(&request, "email = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.RecoveryRequest{
				Email:         key,
				LastSentAt:    now,
				Code:          code,
				CodeExpiresAt: expires,
			}).Error
		}
		if err != nil {
			return err
		}
		if remaining = verification.RemainingCooldown(now, request.LastSentAt, cooldown); remaining > 0 {
			return nil
		}

		return tx.Model(&models.RecoveryRequest{}).
			Where("email = ?", key).
			Updates(map[string]any{
				"last_sent_at":    now,
				"code":            code,
				"code_expires_at": expires,
				"attempts":        0,
			}).Error
	})
	if err != nil {
		if errors.Is(translate(err), ErrDuplicate) {
			// A concurrent issuance for the same email won the insert.
			return cooldown, nil
		}
		return 0, fmt.Errorf("credential store: upsert recovery: %w", err)
	}
	return remaining, nil
}

// VerifyRecoveryCode checks candidate against the active code for email.
// Expiry, exhaustion and a match all clear the code while keeping the
// cooldown anchor.
func (s *CredentialStore) VerifyRecoveryCode(ctx context.Context, email, candidate string, policy verification.Policy, now time.Time) (RecoveryOutcome, int, error) {
	key := models.Normalize(email)
	outcome := RecoveryNoCode
	remaining := 0

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var request models.RecoveryRequest
		err := forUpdate(tx).Take(&request, "email = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !request.Active() {
			return nil
		}

		if request.CodeExpiresAt == nil || now.After(*request.CodeExpiresAt) {
			outcome = RecoveryExpired
			return clearRecoveryCodeTx(tx, key)
		}

		if verification.Matches(*request.Code, candidate) {
			outcome = RecoveryMatched
			return clearRecoveryCodeTx(tx, key)
		}

		attempts := request.Attempts + 1
		if policy.Exhausted(attempts) {
			outcome = RecoveryExhausted
			return clearRecoveryCodeTx(tx, key)
		}
		outcome = RecoveryMismatch
		remaining = policy.RemainingAttempts(attempts)
		return tx.Model(&models.RecoveryRequest{}).Where("email = ?", key).Update("attempts", attempts).Error
	})
	if err != nil {
		return RecoveryNoCode, 0, fmt.Errorf("credential store: verify recovery code: %w", err)
	}
	return outcome, remaining, nil
}

// ClearRecoveryCode drops the active code and attempts for email.
func (s *CredentialStore) ClearRecoveryCode(ctx context.Context, email string) error {
	if err := clearRecoveryCodeTx(s.db.WithContext(ctx), models.Normalize(email)); err != nil {
		return fmt.Errorf("credential store: clear recovery code: %w", err)
	}
	return nil
}

func clearRecoveryCodeTx(tx *gorm.DB, key string) error {
	return tx.Model(&models.RecoveryRequest{}).
		Where("email = ?", key).
		Updates(map[string]any{"code": nil, "code_expires_at": nil, "attempts": 0}).Error
}

// ClearExpiredRecoveryCodes nulls out codes whose expiry is before now.
func (s *CredentialStore) ClearExpiredRecoveryCodes(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.RecoveryRequest{}).
		Where("code IS NOT NULL AND code_expires_at < ?", now).
		Updates(map[string]any{"code": nil, "code_expires_at": nil, "attempts": 0})
	if res.Error != nil {
		return 0, fmt.Errorf("credential store: clear expired recovery codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeStaleRecoveryRequests deletes inactive records last issued before cutoff.
func (s *CredentialStore) PurgeStaleRecoveryRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("code IS NULL AND last_sent_at < ?", cutoff).
		Delete(&models.RecoveryRequest{})
	if res.Error != nil {
		return 0, fmt.Errorf("credential store: purge recovery requests: %w", res.Error)
	}
	return res.RowsAffected, nil
}
