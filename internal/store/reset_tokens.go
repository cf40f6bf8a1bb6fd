package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
)

// CreateResetToken stores a hashed reset token bound to the account's current security stamp.
func (s *CredentialStore) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	if token == nil {
		return errors.New("credential store: reset token is required")
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("credential store: create reset token: %w", translate(err))
	}
	return nil
}

// RedeemResetToken consumes a reset token and sets the new password hash.
// The security stamp rotates, every other outstanding token of the account is
// marked used and active sessions are revoked. Replays return ErrTokenInvalid
// without side effects.
func (s *CredentialStore) RedeemResetToken(ctx context.Context, accountID, tokenHash, passwordHash string, now time.Time) (*models.Account, error) {
	var account models.Account
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var token models.PasswordResetToken
		err := forUpdate(tx).Take(&token, "token_hash = ? AND account_id = ?", tokenHash, accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		if token.UsedAt != nil || !token.ExpiresAt.After(now) {
			return ErrTokenInvalid
		}

		if err := forUpdate(tx).Take(&account, "id = ?", accountID).Error; err != nil {
			return err
		}
		if account.SecurityStamp != token.SecurityStamp {
			return ErrTokenInvalid
		}

		account.PasswordHash = passwordHash
		account.SecurityStamp = NewSecurityStamp()
		account.AccessFailedCount = 0
		err = tx.Model(&models.Account{}).Where("id = ?", account.ID).Updates(map[string]any{
			"password_hash":       account.PasswordHash,
			"security_stamp":      account.SecurityStamp,
			"access_failed_count": 0,
		}).Error
		if err != nil {
			return err
		}

		err = tx.Model(&models.PasswordResetToken{}).
			Where("account_id = ? AND used_at IS NULL", accountID).
			Update("used_at", now).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Session{}).
			Where("account_id = ? AND revoked_at IS NULL", accountID).
			Update("revoked_at", now).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("credential store: redeem reset token: %w", translate(err))
	}
	return &account, nil
}

// PurgeResetTokens deletes tokens that are used or expired at now.
func (s *CredentialStore) PurgeResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("used_at IS NOT NULL OR expires_at < ?", now).
		Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("credential store: purge reset tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
