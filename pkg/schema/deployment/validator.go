package deployment

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidthor/vmprov/pkg/errors"
)

// Validator checks a Config before anything is rendered.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that reports fields by their wire names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

var defaultValidator = NewValidator()

// Validate checks the architecture and provider fields of cfg using the
// package validator.
func Validate(cfg *Config) error {
	return defaultValidator.Validate(cfg)
}

// Validate returns a ConfigurationError naming the first missing or invalid
// field, or nil.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ConfigurationError("config", "is required")
	}

	err := v.validate.Struct(cfg)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return errors.Wrap(errors.ErrCodeConfiguration, "invalid configuration", err)
	}

	fe := fieldErrs[0]
	return errors.ConfigurationError(fieldPath(fe.Namespace()), reason(fe))
}

// ValidateCredentials checks that every credential field the provider needs
// is present and non-empty.
func ValidateCredentials(provider Provider, creds Credentials) error {
	required, ok := RequiredCredentialKeys[provider]
	if !ok {
		return errors.UnsupportedProviderError(string(provider))
	}

	bundle := creds.For(provider)
	for _, key := range required {
		if strings.TrimSpace(bundle[key]) == "" {
			return errors.ConfigurationError(
				fmt.Sprintf("credentials.%s.%s", provider, key), "is required")
		}
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace
// ("Config.architecture.vmCount" -> "architecture.vmCount").
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "must not be empty"
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
