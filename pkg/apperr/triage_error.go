package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Provider errors
	CodeTransientProvider = "TRANSIENT_PROVIDER"
	CodeProviderRejected  = "PROVIDER_REJECTED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeRateLimited       = "RATE_LIMITED"

	// Model errors
	CodeSafetyBlock      = "SAFETY_BLOCK"
	CodeMalformedOutput  = "MALFORMED_OUTPUT"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"

	// Pipeline errors
	CodePartialPipeline = "PARTIAL_PIPELINE"
	CodeInvalidPayload  = "INVALID_PAYLOAD"

	// Internal errors
	CodeConfigError   = "CONFIG_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Transient wraps a network or 5xx failure from an external service.
func Transient(service string, err error) *AppError {
	return &AppError{
		Code:      CodeTransientProvider,
		Message:   fmt.Sprintf("transient error from %s", service),
		Retryable: true,
		Details:   map[string]any{"service": service},
		Err:       err,
	}
}

// Rejected wraps a 4xx failure that repeating the request will not fix.
func Rejected(service string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderRejected,
		Message: fmt.Sprintf("request rejected by %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func SafetyBlock(reason string) *AppError {
	return &AppError{
		Code:    CodeSafetyBlock,
		Message: fmt.Sprintf("response withheld: %s", reason),
	}
}

func MalformedOutput(what string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformedOutput,
		Message: fmt.Sprintf("malformed model output for %s", what),
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
	}
}

func MissingConfig(key string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: fmt.Sprintf("missing required configuration: %s", key),
		Details: map[string]any{"key": key},
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func InvalidPayload(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInvalidPayload,
		Message: message,
		Err:     err,
	}
}

func PartialPipeline(step string, err error) *AppError {
	return &AppError{
		Code:    CodePartialPipeline,
		Message: fmt.Sprintf("pipeline stopped at %s", step),
		Err:     err,
	}
}

// FromHTTPStatus classifies an HTTP status from an external service.
func FromHTTPStatus(service string, status int, err error) *AppError {
	switch {
	case status == http.StatusTooManyRequests:
		return &AppError{
			Code:      CodeRateLimited,
			Message:   fmt.Sprintf("rate limited by %s", service),
			Retryable: true,
			Err:       err,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AppError{
			Code:    CodeUnauthorized,
			Message: fmt.Sprintf("not authorized by %s", service),
			Err:     err,
		}
	case status == http.StatusNotFound:
		return &AppError{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("%s resource not found", service),
			Err:     err,
		}
	case status >= 500:
		return Transient(service, err)
	case status >= 400:
		return Rejected(service, err)
	}
	return Transient(service, err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is marked retryable. Unclassified errors
// are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}
