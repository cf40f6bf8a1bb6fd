package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	appErrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// UsernameCharacters lists the characters accepted by the "username" rule.
const UsernameCharacters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._@+"

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// FieldErrors converts the failures into the field-scoped error representation used in API responses.
func (v ValidationErrors) FieldErrors() []appErrors.FieldError {
	out := make([]appErrors.FieldError, 0, len(v))
	for _, err := range v {
		out = append(out, appErrors.FieldError{
			Field:   err.Field,
			Code:    err.Tag,
			Message: describe(err),
		})
	}
	return out
}

func describe(err ValidationError) string {
	switch err.Tag {
	case "required":
		return fmt.Sprintf("%s is required", err.Field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", err.Field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", err.Field, err.Param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", err.Field, err.Param)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", err.Field, err.Param)
	case "numeric":
		return fmt.Sprintf("%s must contain digits only", err.Field)
	case "username":
		return fmt.Sprintf("%s may only contain letters, digits and -._@+", err.Field)
	case "eqfield":
		return fmt.Sprintf("%s must match %s", err.Field, err.Param)
	default:
		return fmt.Sprintf("%s is invalid", err.Field)
	}
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

func validUsername(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	for _, r := range value {
		if !strings.ContainsRune(UsernameCharacters, r) {
			return false
		}
	}
	return true
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("username", validUsername)
	})
	return validate
}
