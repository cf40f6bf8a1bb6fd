package oidc

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Prompt values understood by the authorization endpoint.
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// AuthorizationRequest is a parsed authorization endpoint request.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scopes              []string
	State               string
	Nonce               string
	Prompts             []string
	MaxAge              *int64
	CodeChallenge       string
	CodeChallengeMethod string

	raw url.Values
}

// ParseAuthorizationRequest reads the standard parameters from a query or form.
func ParseAuthorizationRequest(values url.Values) (*AuthorizationRequest, error) {
	req := &AuthorizationRequest{
		ClientID:            strings.TrimSpace(values.Get("client_id")),
		RedirectURI:         strings.TrimSpace(values.Get("redirect_uri")),
		ResponseType:        strings.TrimSpace(values.Get("response_type")),
		Scopes:              splitSpaces(values.Get("scope")),
		State:               values.Get("state"),
		Nonce:               values.Get("nonce"),
		Prompts:             splitSpaces(values.Get("prompt")),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
		raw:                 cloneValues(values),
	}

	if req.ClientID == "" {
		return nil, newError(ErrorInvalidRequest, "The mandatory 'client_id' parameter is missing.")
	}
	if raw := strings.TrimSpace(values.Get("max_age")); raw != "" {
		maxAge, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || maxAge < 0 {
			return nil, newError(ErrorInvalidRequest, "The 'max_age' parameter is invalid.")
		}
		req.MaxAge = &maxAge
	}
	if req.HasPrompt(PromptNone) && len(req.Prompts) > 1 {
		return nil, newError(ErrorInvalidRequest, "The 'none' prompt cannot be combined with other values.")
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = ChallengeMethodPlain
	}
	return req, nil
}

// HasPrompt reports whether the request carries the prompt value.
func (r *AuthorizationRequest) HasPrompt(prompt string) bool {
	return slices.Contains(r.Prompts, prompt)
}

// HasScope reports whether the scope was requested.
func (r *AuthorizationRequest) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}

// Values returns a copy of the original parameters.
func (r *AuthorizationRequest) Values() url.Values {
	return cloneValues(r.raw)
}

// ChallengeValues returns the parameters to resume the request after an
// interactive sign-in. The login prompt is removed so the user is not asked again.
func (r *AuthorizationRequest) ChallengeValues() url.Values {
	values := cloneValues(r.raw)
	remaining := make([]string, 0, len(r.Prompts))
	for _, prompt := range r.Prompts {
		if prompt != PromptLogin {
			remaining = append(remaining, prompt)
		}
	}
	if len(remaining) == 0 {
		values.Del("prompt")
	} else {
		values.Set("prompt", strings.Join(remaining, " "))
	}
	return values
}

func splitSpaces(value string) []string {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if !slices.Contains(out, field) {
			out = append(out, field)
		}
	}
	return out
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, items := range values {
		out[key] = append([]string(nil), items...)
	}
	return out
}
