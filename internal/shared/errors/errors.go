package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes for engine-level failure kinds.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeTemplateRender    = "TEMPLATE_RENDER_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeProviderAuth      = "PROVIDER_AUTH_ERROR"
	CodeProviderThrottled = "PROVIDER_THROTTLED"
	CodeProviderRejected  = "PROVIDER_REJECTED"
	CodeProviderTimeout   = "PROVIDER_TIMEOUT"
)

// AppError represents an application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Err: err}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Err: err}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// NewNotConfiguredError signals missing or disabled email settings. The
// orchestrator treats it as a no-op, not a failure.
func NewNotConfiguredError(message string) *AppError {
	return &AppError{Code: CodeNotConfigured, Message: message}
}

// NewTemplateRenderError aborts a single rule's processing.
func NewTemplateRenderError(message string, err error) *AppError {
	return &AppError{Code: CodeTemplateRender, Message: message, Err: err}
}

// NewRateLimitError stops remaining recipients for the current rule.
func NewRateLimitError(message string) *AppError {
	return &AppError{Code: CodeRateLimitExceeded, Message: message}
}

// NewProviderError wraps a delivery backend failure under a mapped code.
func NewProviderError(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the AppError code from err, or CodeInternal if err is not
// an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
