// Package errors provides structured error types for vmprov.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeConfiguration       ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrCodeStageFailure        ErrorCode = "STAGE_FAILURE"
	ErrCodeOutputCollection    ErrorCode = "OUTPUT_COLLECTION"
	ErrCodeUnexpected          ErrorCode = "UNEXPECTED_FAULT"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeBackend             ErrorCode = "BACKEND_ERROR"
	ErrCodeSecret              ErrorCode = "SECRET_ERROR"
)

// Error is the base error type for vmprov
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ConfigurationError reports a missing or invalid input field.
func ConfigurationError(field, reason string) *Error {
	return &Error{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf("invalid configuration field %q: %s", field, reason),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// UnsupportedProviderError reports a provider outside the supported set.
func UnsupportedProviderError(provider string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedProvider,
		Message: fmt.Sprintf("unsupported provider: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// StageFailure reports a pipeline stage that did not succeed. The outcome is
// stored verbatim under the "outcome" detail.
func StageFailure(stage string, outcome interface{}) *Error {
	return &Error{
		Code:    ErrCodeStageFailure,
		Message: fmt.Sprintf("terraform %s failed", stage),
		Details: map[string]interface{}{
			"stage":   stage,
			"outcome": outcome,
		},
	}
}

// UnexpectedFault wraps a fault nothing upstream anticipated.
func UnexpectedFault(operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeUnexpected,
		Message: fmt.Sprintf("unexpected fault during %s", operation),
		Cause:   err,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// SecretError reports a credential reference that could not be resolved.
func SecretError(reference string, err error) *Error {
	return &Error{
		Code:    ErrCodeSecret,
		Message: fmt.Sprintf("failed to resolve secret reference %s", reference),
		Cause:   err,
		Details: map[string]interface{}{
			"reference": reference,
		},
	}
}

// Is checks if the error, or any error it wraps, carries the given code
func Is(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first coded error in the chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
