package oidc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
)

func TestListGrantsAcrossApplications(t *testing.T) {
	f := newEngineFixture(t)
	f.issueCode(t, authorizeValues(confidentialApp, "openid"))
	_, err := f.engine.Accept(context.Background(), parseRequest(t, authorizeValues(explicitApp, "openid email")), f.session)
	require.NoError(t, err)

	other := createAccount(t, f.db, "bob", "bob@x.test")
	require.NoError(t, f.db.Create(&models.AuthorizationGrant{
		Subject:       other.ID,
		ApplicationID: f.application(t, confidentialApp).ID,
		Type:          models.GrantPermanent,
		Status:        models.GrantValid,
		Scopes:        []string{"openid"},
	}).Error)

	grants, err := f.engine.ListGrants(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	names := []string{grants[0].ApplicationName, grants[1].ApplicationName}
	require.ElementsMatch(t, []string{"Web", "Explicit"}, names)
	for _, grant := range grants {
		require.Equal(t, models.GrantValid, grant.Status)
		require.NotEmpty(t, grant.ClientID)
	}
}

func TestRevokeGrantRevokesTokensAndAudits(t *testing.T) {
	f := newEngineFixture(t)
	audit, err := services.NewAuditService(f.db)
	require.NoError(t, err)
	WithAudit(audit)(f.engine)

	code := f.issueCode(t, authorizeValues(confidentialApp, "openid offline_access"))
	grants, err := f.engine.ListGrants(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	require.NoError(t, f.engine.RevokeGrant(context.Background(), f.account.ID, grants[0].ID, services.RequestMeta{IPAddress: "203.0.113.9"}))

	_, err = f.engine.Exchange(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     confidentialApp,
		ClientSecret: testSecret,
	})
	require.True(t, IsCode(err, ErrorInvalidGrant))

	remaining, err := f.engine.ListGrants(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Empty(t, remaining)

	logs, total, err := audit.List(context.Background(), services.AuditListOptions{
		Filters: services.AuditFilters{Action: services.AuditGrantRevoked},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "203.0.113.9", logs[0].IPAddress)
}

func TestRevokeGrantOwnedByAnotherSubjectIsForbidden(t *testing.T) {
	f := newEngineFixture(t)
	f.issueCode(t, authorizeValues(confidentialApp, "openid"))
	grants, err := f.engine.ListGrants(context.Background(), f.account.ID)
	require.NoError(t, err)

	other := createAccount(t, f.db, "bob", "bob@x.test")
	err = f.engine.RevokeGrant(context.Background(), other.ID, grants[0].ID, services.RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	still, err := f.engine.ListGrants(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Len(t, still, 1)
}

func TestRevokeUnknownGrantIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	err := f.engine.RevokeGrant(context.Background(), f.account.ID, "2b4f6f1c-0000-4000-8000-000000000000", services.RequestMeta{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindGrantsRequiresScopeSuperset(t *testing.T) {
	f := newEngineFixture(t)
	app := f.application(t, explicitApp)
	require.NoError(t, f.db.Create(&models.AuthorizationGrant{
		Subject:       f.account.ID,
		ApplicationID: app.ID,
		Type:          models.GrantPermanent,
		Status:        models.GrantValid,
		Scopes:        []string{"openid", "profile"},
	}).Error)

	found, err := f.engine.FindGrants(context.Background(), f.account.ID, app.ID, models.GrantPermanent, []string{"openid"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = f.engine.FindGrants(context.Background(), f.account.ID, app.ID, models.GrantPermanent, []string{"openid", "email"})
	require.NoError(t, err)
	require.Empty(t, found)

	found, err = f.engine.FindGrants(context.Background(), f.account.ID, app.ID, models.GrantAdHoc, []string{"openid"})
	require.NoError(t, err)
	require.Empty(t, found)
}
