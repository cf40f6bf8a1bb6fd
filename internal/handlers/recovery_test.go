package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/handlers/testutil"
	"github.com/charlesng35/idcore/internal/models"
)

func TestRecoveryHandler_ResetFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndConfirm("grace", "grace@x.test", "Passw0rd!")
	require.Equal(t, http.StatusOK, env.Request(http.MethodGet, "/account/me", nil).Code)

	w := env.Request(http.MethodPost, "/account/recovery/request", map[string]string{"email": "Grace@X.test"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/account/recovery/resend", map[string]string{"email": "grace@x.test"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", testutil.DecodeResponse(t, w).Error.Code)

	code := env.LastCode("grace@x.test")

	w = env.Request(http.MethodPost, "/account/recovery/verify", map[string]string{"email": "grace@x.test", "code": "not-it"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_CODE", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/account/recovery/verify", map[string]string{"email": "grace@x.test", "code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verified struct {
		Token string `json:"token"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &verified)
	require.NotEmpty(t, verified.Token)

	reset := map[string]string{"email": "grace@x.test", "token": verified.Token, "password": "N3wPassw0rd!"}
	w = env.Request(http.MethodPost, "/account/recovery/reset", reset)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Every session of the account is revoked by the reset.
	require.Equal(t, http.StatusUnauthorized, env.Request(http.MethodGet, "/account/me", nil).Code)

	w = env.Request(http.MethodPost, "/account/recovery/reset", reset)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_TOKEN", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/account/login", map[string]string{"identifier": "grace", "password": "Passw0rd!"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.Request(http.MethodPost, "/account/login", map[string]string{"identifier": "grace", "password": "N3wPassw0rd!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRecoveryHandler_UnknownEmailLooksIdentical(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/account/recovery/request", map[string]string{"email": "ghost@x.test"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var queued int64
	require.NoError(t, env.DB.Model(&models.OutboundMailMessage{}).Count(&queued).Error)
	require.Zero(t, queued)

	w = env.Request(http.MethodPost, "/account/recovery/request", map[string]string{"email": "ghost@x.test"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = env.Request(http.MethodPost, "/account/recovery/verify", map[string]string{"email": "ghost@x.test", "code": "12345678"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_CODE", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/account/recovery/request", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_FAILED", testutil.DecodeResponse(t, w).Error.Code)
}
