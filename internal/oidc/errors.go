package oidc

import (
	"errors"
	"fmt"
	"net/http"
)

// Protocol error codes from RFC 6749 and OpenID Connect Core.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidScope            = "invalid_scope"
	ErrorInvalidToken            = "invalid_token"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorAccessDenied            = "access_denied"
	ErrorLoginRequired           = "login_required"
	ErrorConsentRequired         = "consent_required"
	ErrorInsufficientScope       = "insufficient_scope"
	ErrorServerError             = "server_error"
)

// Error is a protocol failure rendered as {"error", "error_description"} or
// appended to the client's redirect_uri.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "oidc: " + e.Code
	}
	return fmt.Sprintf("oidc: %s: %s", e.Code, e.Description)
}

func newError(code, description string) *Error {
	status := http.StatusBadRequest
	switch code {
	case ErrorInvalidClient, ErrorInvalidToken:
		status = http.StatusUnauthorized
	case ErrorServerError:
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Description: description, Status: status}
}

// IsCode reports whether err is a protocol error carrying code.
func IsCode(err error, code string) bool {
	var oerr *Error
	if !errors.As(err, &oerr) {
		return false
	}
	return oerr.Code == code
}
