package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
)

// FindAccountByID loads an account with its roles.
func (s *CredentialStore) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Preload("Roles").Take(&account, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// FindAccountByUsernameOrEmail resolves an account by username or email, case-insensitively.
func (s *CredentialStore) FindAccountByUsernameOrEmail(ctx context.Context, identifier string) (*models.Account, error) {
	normalized := models.Normalize(identifier)
	if normalized == "" {
		return nil, ErrNotFound
	}

	var account models.Account
	err := s.db.WithContext(ctx).
		Preload("Roles").
		Where("normalized_username = ? OR normalized_email = ?", normalized, normalized).
		Order("email_confirmed DESC").
		Take(&account).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// FindAccountByEmail resolves an account by email, case-insensitively.
func (s *CredentialStore) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	normalized := models.Normalize(email)
	if normalized == "" {
		return nil, ErrNotFound
	}

	var account models.Account
	err := s.db.WithContext(ctx).Preload("Roles").Take(&account, "normalized_email = ?", normalized).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// IdentityTaken reports whether a confirmed account already uses the username
// or email. Shadow accounts never block.
func (s *CredentialStore) IdentityTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	db := s.db.WithContext(ctx).Model(&models.Account{}).Where("email_confirmed = ?", true)

	var count int64
	if err := db.Session(&gorm.Session{}).Where("normalized_username = ?", models.Normalize(username)).Count(&count).Error; err != nil {
		return false, false, fmt.Errorf("credential store: check username: %w", err)
	}
	usernameTaken = count > 0

	if err := db.Session(&gorm.Session{}).Where("normalized_email = ?", models.Normalize(email)).Count(&count).Error; err != nil {
		return false, false, fmt.Errorf("credential store: check email: %w", err)
	}
	emailTaken = count > 0
	return usernameTaken, emailTaken, nil
}

// CreateShadowAccount inserts the locked placeholder account and its pending
// registration in one transaction.
func (s *CredentialStore) CreateShadowAccount(ctx context.Context, account *models.Account, pending *models.PendingRegistration) error {
	if account == nil || pending == nil {
		return fmt.Errorf("credential store: account and pending registration are required")
	}

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Omit("Roles").Create(account).Error; err != nil {
			return err
		}
		pending.AccountID = account.ID
		return tx.Create(pending).Error
	})
	if err != nil {
		return fmt.Errorf("credential store: create shadow account: %w", translate(err))
	}
	return nil
}

// RecordSignInFailure counts a failed password attempt and starts a lockout
// once threshold consecutive failures accumulate.
func (s *CredentialStore) RecordSignInFailure(ctx context.Context, accountID string, threshold int, lockout time.Duration, now time.Time) (*models.Account, error) {
	var account models.Account
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := forUpdate(tx).Take(&account, "id = ?", accountID).Error; err != nil {
			return err
		}

		updates := map[string]any{"access_failed_count": account.AccessFailedCount + 1}
		if account.LockoutEnabled && threshold > 0 && account.AccessFailedCount+1 >= threshold {
			end := now.Add(lockout)
			updates["lockout_end"] = end
			updates["access_failed_count"] = 0
			account.LockoutEnd = &end
			account.AccessFailedCount = 0
		} else {
			account.AccessFailedCount++
		}
		return tx.Model(&models.Account{}).Where("id = ?", accountID).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: record sign-in failure: %w", translate(err))
	}
	return &account, nil
}

// RecordSignInSuccess resets the failure counter and stores last-login bookkeeping.
func (s *CredentialStore) RecordSignInSuccess(ctx context.Context, accountID, ip string, now time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"access_failed_count": 0,
			"last_login_at":       now,
			"last_login_ip":       ip,
		}).Error
	if err != nil {
		return fmt.Errorf("credential store: record sign-in success: %w", err)
	}
	return nil
}
