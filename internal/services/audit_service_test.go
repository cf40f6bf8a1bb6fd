package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	accountID := "4d1b5c8a-0000-4000-8000-000000000001"
	require.NoError(t, svc.Log(ctx, AuditEntry{
		AccountID: &accountID,
		Action:    AuditSignIn,
		Result:    "success",
		IPAddress: " 10.0.0.1 ",
		Metadata:  map[string]any{"method": "password"},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: AuditSignIn, Result: "failure"}))

	logs, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{AccountID: accountID}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "10.0.0.1", logs[0].IPAddress)
	require.Equal(t, "password", logs[0].Metadata["method"])

	_, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: "failure"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestAuditServiceRejectsIncompleteEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: AuditSignIn}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.AuditLog{Action: AuditSignIn, Result: "success", CreatedAt: svc.now().AddDate(0, 0, -100)}).Error)
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: AuditSignIn, Result: "success"}))

	removed, err := svc.CleanupOlderThan(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}
