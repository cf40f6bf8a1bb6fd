// Package identity holds the shape rules applied to usernames, emails and
// passwords before any account is created or a credential replaced.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/validator"
)

// PasswordPolicy mirrors the configurable password requirements.
type PasswordPolicy struct {
	RequiredLength         int
	MaxLength              int
	RequireDigit           bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireNonAlphanumeric bool
	RequiredUniqueChars    int
}

// DefaultPasswordPolicy requires six characters mixing digits, both cases and a symbol.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		RequiredLength:         6,
		MaxLength:              100,
		RequireDigit:           true,
		RequireLowercase:       true,
		RequireUppercase:       true,
		RequireNonAlphanumeric: true,
		RequiredUniqueChars:    1,
	}
}

// Rules validates identity input.
type Rules struct {
	Password PasswordPolicy
}

// NewRules returns Rules with the supplied password policy.
func NewRules(policy PasswordPolicy) Rules {
	return Rules{Password: policy}
}

type registrationInput struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
	Email    string `json:"email" validate:"required,max=256,email"`
}

// ValidateRegistration checks shape rules for a registration attempt and
// returns every failing field. Uniqueness is checked by the caller.
func (r Rules) ValidateRegistration(username, email, password string) []appErrors.FieldError {
	var fields []appErrors.FieldError

	err := validator.ValidateStruct(registrationInput{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
	})
	if vErrs, ok := err.(validator.ValidationErrors); ok {
		fields = append(fields, vErrs.FieldErrors()...)
	} else if err != nil {
		fields = append(fields, appErrors.FieldError{Field: "username", Code: "invalid", Message: err.Error()})
	}

	return append(fields, r.ValidatePassword(password)...)
}

// ValidatePassword applies the password policy, reporting each unmet requirement.
func (r Rules) ValidatePassword(password string) []appErrors.FieldError {
	p := r.Password
	var fields []appErrors.FieldError
	add := func(code, message string) {
		fields = append(fields, appErrors.FieldError{Field: "password", Code: code, Message: message})
	}

	if password == "" {
		add("required", "password is required")
		return fields
	}
	length := len([]rune(password))
	if length < p.RequiredLength {
		add("too_short", fmt.Sprintf("password must be at least %d characters", p.RequiredLength))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		add("too_long", fmt.Sprintf("password must be at most %d characters", p.MaxLength))
	}

	var hasDigit, hasLower, hasUpper, hasSymbol bool
	unique := make(map[rune]struct{})
	for _, ch := range password {
		unique[ch] = struct{}{}
		switch {
		case unicode.IsDigit(ch):
			hasDigit = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsUpper(ch):
			hasUpper = true
		case !unicode.IsLetter(ch):
			hasSymbol = true
		}
	}

	if p.RequireDigit && !hasDigit {
		add("requires_digit", "password must contain a digit")
	}
	if p.RequireLowercase && !hasLower {
		add("requires_lower", "password must contain a lowercase letter")
	}
	if p.RequireUppercase && !hasUpper {
		add("requires_upper", "password must contain an uppercase letter")
	}
	if p.RequireNonAlphanumeric && !hasSymbol {
		add("requires_non_alphanumeric", "password must contain a non-alphanumeric character")
	}
	if p.RequiredUniqueChars > 1 && len(unique) < p.RequiredUniqueChars {
		add("requires_unique_chars", fmt.Sprintf("password must use at least %d different characters", p.RequiredUniqueChars))
	}
	return fields
}
