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

// ConfirmOutcome classifies a confirmation attempt.
type ConfirmOutcome int

const (
	ConfirmNotFound ConfirmOutcome = iota
	ConfirmBlocked
	ConfirmExpired
	ConfirmMismatch
	ConfirmAccepted
)

// ConfirmResult carries the state after a confirmation attempt.
type ConfirmResult struct {
	Outcome           ConfirmOutcome
	Pending           *models.PendingRegistration
	Account           *models.Account
	RemainingAttempts int
}

// FindPendingByID loads a pending registration.
func (s *CredentialStore) FindPendingByID(ctx context.Context, id string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	if err := s.db.WithContext(ctx).Take(&pending, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &pending, nil
}

// FindPendingByAccountID loads the pending registration owning a shadow account.
func (s *CredentialStore) FindPendingByAccountID(ctx context.Context, accountID string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	if err := s.db.WithContext(ctx).Take(&pending, "account_id = ?", accountID).Error; err != nil {
		return nil, translate(err)
	}
	return &pending, nil
}

// FindLatestPendingByEmail returns the most recent pending registration for a desired email.
func (s *CredentialStore) FindLatestPendingByEmail(ctx context.Context, email string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	err := s.db.WithContext(ctx).
		Where("normalized_email = ?", models.Normalize(email)).
		Order("created_at DESC").
		Take(&pending).Error
	if err != nil {
		return nil, translate(err)
	}
	return &pending, nil
}

// IncrementPendingAttempt counts one wrong guess and blocks the registration
// once maxAttempts is reached. Blocked rows are returned unchanged.
func (s *CredentialStore) IncrementPendingAttempt(ctx context.Context, id string, maxAttempts int) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Take(&pending, "id = ?", id).Error; err != nil {
			return err
		}
		if pending.Blocked {
			return nil
		}
		return incrementAttemptTx(tx, &pending, verification.Policy{MaxAttempts: maxAttempts})
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: increment attempt: %w", translate(err))
	}
	return &pending, nil
}

func incrementAttemptTx(tx *gorm.DB, pending *models.PendingRegistration, policy verification.Policy) error {
	pending.Attempts++
	pending.Blocked = policy.Exhausted(pending.Attempts)
	return tx.Model(&models.PendingRegistration{}).
		Where("id = ?", pending.ID).
		Updates(map[string]any{"attempts": pending.Attempts, "blocked": pending.Blocked}).Error
}

// ReissuePendingCode replaces the code when the resend cooldown has elapsed,
// resetting attempts and the block flag. When the cooldown is still active the
// row is left untouched and the remaining wait is returned.
func (s *CredentialStore) ReissuePendingCode(ctx context.Context, id, code string, now time.Time, cooldown time.Duration) (*models.PendingRegistration, time.Duration, error) {
	var (
		pending   models.PendingRegistration
		remaining time.Duration
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Take(&pending, "id = ?", id).Error; err != nil {
			return err
		}
		if remaining = verification.RemainingCooldown(now, pending.CodeIssuedAt, cooldown); remaining > 0 {
			return nil
		}

		pending.Code = &code
		pending.CodeIssuedAt = now
		pending.Attempts = 0
		pending.Blocked = false
		return tx.Model(&models.PendingRegistration{}).
			Where("id = ?", pending.ID).
			Updates(map[string]any{
				"code":           code,
				"code_issued_at": now,
				"attempts":       0,
				"blocked":        false,
			}).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("credential store: reissue code: %w", translate(err))
	}
	return &pending, remaining, nil
}

// ConfirmPending evaluates a confirmation code under a row lock. A matching
// code promotes the shadow account and removes every pending registration that
// collides on username or email, all in one transaction.
func (s *CredentialStore) ConfirmPending(ctx context.Context, id, code string, policy verification.Policy, now time.Time) (*ConfirmResult, error) {
	result := &ConfirmResult{Outcome: ConfirmNotFound}

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var pending models.PendingRegistration
		err := forUpdate(tx).Take(&pending, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result.Pending = &pending

		switch {
		case pending.Blocked:
			result.Outcome = ConfirmBlocked
			return nil
		case pending.Code == nil:
			return nil
		case policy.Expired(now, pending.CodeIssuedAt):
			result.Outcome = ConfirmExpired
			return nil
		case !verification.Matches(*pending.Code, code):
			if err := incrementAttemptTx(tx, &pending, policy); err != nil {
				return err
			}
			result.Outcome = ConfirmMismatch
			result.RemainingAttempts = policy.RemainingAttempts(pending.Attempts)
			return nil
		}

		account, err := promoteTx(tx, &pending)
		if err != nil {
			return err
		}
		if _, err := deletePendingMatchingTx(tx, pending.NormalizedUsername, pending.NormalizedEmail, account.ID); err != nil {
			return err
		}
		result.Outcome = ConfirmAccepted
		result.Account = account
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: confirm: %w", translate(err))
	}
	return result, nil
}

func promoteTx(tx *gorm.DB, pending *models.PendingRegistration) (*models.Account, error) {
	var account models.Account
	if err := forUpdate(tx).Take(&account, "id = ?", pending.AccountID).Error; err != nil {
		return nil, err
	}

	err := tx.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"username":            pending.Username,
			"normalized_username": pending.NormalizedUsername,
			"email":               pending.Email,
			"normalized_email":    pending.NormalizedEmail,
			"email_confirmed":     true,
			"lockout_end":         nil,
			"access_failed_count": 0,
			"security_stamp":      NewSecurityStamp(),
		}).Error
	if err != nil {
		return nil, err
	}

	var role models.Role
	err = tx.Take(&role, "name = ?", models.RoleUser).Error
	switch {
	case err == nil:
		if err := tx.Model(&account).Association("Roles").Append(&role); err != nil {
			return nil, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var promoted models.Account
	if err := tx.Preload("Roles").Take(&promoted, "id = ?", account.ID).Error; err != nil {
		return nil, err
	}
	return &promoted, nil
}

// DeletePendingMatching removes pending registrations whose desired username or
// email equals value, together with their shadow accounts.
func (s *CredentialStore) DeletePendingMatching(ctx context.Context, value string) (int64, error) {
	normalized := models.Normalize(value)
	var removed int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		removed, err = deletePendingMatchingTx(tx, normalized, normalized, "")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("credential store: delete pending: %w", err)
	}
	return removed, nil
}

func deletePendingMatchingTx(tx *gorm.DB, username, email, keepAccountID string) (int64, error) {
	var rows []models.PendingRegistration
	if err := tx.Where("normalized_username = ? OR normalized_email = ?", username, email).Find(&rows).Error; err != nil {
		return 0, err
	}
	return deletePendingRowsTx(tx, rows, keepAccountID)
}

func deletePendingRowsTx(tx *gorm.DB, rows []models.PendingRegistration, keepAccountID string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	shadows := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.AccountID != keepAccountID {
			shadows = append(shadows, row.AccountID)
		}
	}

	res := tx.Where("id IN ?", ids).Delete(&models.PendingRegistration{})
	if res.Error != nil {
		return 0, res.Error
	}
	if len(shadows) > 0 {
		if err := tx.Where("id IN ? AND email_confirmed = ?", shadows, false).Delete(&models.Account{}).Error; err != nil {
			return 0, err
		}
	}
	return res.RowsAffected, nil
}

// PurgeExpiredPending deletes pending registrations whose code was issued
// before cutoff, along with their shadow accounts.
func (s *CredentialStore) PurgeExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var rows []models.PendingRegistration
		if err := forUpdate(tx).Where("code_issued_at < ?", cutoff).Find(&rows).Error; err != nil {
			return err
		}
		var err error
		removed, err = deletePendingRowsTx(tx, rows, "")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("credential store: purge pending: %w", err)
	}
	return removed, nil
}
