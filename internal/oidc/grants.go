package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
)

// GrantView is a grant as shown to its owner.
type GrantView struct {
	ID              string    `json:"id"`
	ApplicationName string    `json:"application_name"`
	ClientID        string    `json:"client_id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Scopes          []string  `json:"scopes"`
	CreatedAt       time.Time `json:"created_at"`
}

// FindGrants returns the valid grants of grantType for (subject, application)
// covering every requested scope, newest first.
func (e *Engine) FindGrants(ctx context.Context, subject, applicationID, grantType string, scopes []string) ([]models.AuthorizationGrant, error) {
	var rows []models.AuthorizationGrant
	err := e.db.WithContext(ctx).
		Where("subject = ? AND application_id = ? AND type = ? AND status = ?", subject, applicationID, grantType, models.GrantValid).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("oidc: find grants: %w", err)
	}

	matching := rows[:0]
	for _, grant := range rows {
		if grant.CoversScopes(scopes) {
			matching = append(matching, grant)
		}
	}
	return matching, nil
}

// ListGrants returns every valid grant held by subject across applications.
func (e *Engine) ListGrants(ctx context.Context, subject string) ([]GrantView, error) {
	var rows []models.AuthorizationGrant
	err := e.db.WithContext(ctx).
		Preload("Application").
		Where("subject = ? AND status = ?", subject, models.GrantValid).
		Where("type IN ?", []string{models.GrantPermanent, models.GrantAdHoc}).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("oidc: list grants: %w", err)
	}

	views := make([]GrantView, 0, len(rows))
	for _, grant := range rows {
		view := GrantView{
			ID:        grant.ID,
			Type:      grant.Type,
			Status:    grant.Status,
			Scopes:    append([]string(nil), grant.Scopes...),
			CreatedAt: grant.CreatedAt,
		}
		if grant.Application != nil {
			view.ClientID = grant.Application.ClientID
			view.ApplicationName = grant.Application.DisplayName
			if view.ApplicationName == "" {
				view.ApplicationName = grant.Application.ClientID
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// RevokeGrant revokes a grant owned by subject together with its outstanding
// codes and refresh tokens.
func (e *Engine) RevokeGrant(ctx context.Context, subject, grantID string, meta services.RequestMeta) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grant models.AuthorizationGrant
		if err := tx.Take(&grant, "id = ?", grantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return err
		}
		if grant.Subject != subject {
			return apperrors.ErrForbidden
		}
		if err := tx.Model(&models.AuthorizationGrant{}).
			Where("id = ?", grant.ID).
			Update("status", models.GrantRevoked).Error; err != nil {
			return err
		}
		return revokeAuthorizationTokens(tx, grant.ID)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("oidc: revoke grant: %w", err)
	}

	accountID := subject
	if e.audit != nil {
		_ = e.audit.Log(ctx, services.AuditEntry{
			AccountID: &accountID,
			Action:    services.AuditGrantRevoked,
			Result:    "success",
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]any{"grant_id": grantID},
		})
	}
	return nil
}

// RevokeAuthorization revokes every outstanding token issued from an authorization.
func (e *Engine) RevokeAuthorization(ctx context.Context, authorizationID string) error {
	if err := revokeAuthorizationTokens(e.db.WithContext(ctx), authorizationID); err != nil {
		return fmt.Errorf("oidc: revoke authorization tokens: %w", err)
	}
	return nil
}

func revokeAuthorizationTokens(tx *gorm.DB, authorizationID string) error {
	return tx.Model(&models.OAuthToken{}).
		Where("authorization_id = ? AND status <> ?", authorizationID, models.TokenStatusRevoked).
		Update("status", models.TokenStatusRevoked).Error
}
