package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Infrastructure errors
	ErrCodeConfigLoad      ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeStoreFailed     ErrorCode = "STORE_FAILED"
	ErrCodeBackendNotFound ErrorCode = "BACKEND_NOT_FOUND"

	// Request classification errors
	ErrCodeInvalidMethod  ErrorCode = "INVALID_METHOD"
	ErrCodePurgeForbidden ErrorCode = "PURGE_FORBIDDEN"

	// Origin errors
	ErrCodeFetchFailed        ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout       ErrorCode = "FETCH_TIMEOUT"
	ErrCodeRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeCircuitBreakerOpen ErrorCode = "CIRCUIT_BREAKER_OPEN"

	// Front door errors
	ErrCodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// CacheError represents a structured error with context
type CacheError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *CacheError) Is(target error) bool {
	if t, ok := target.(*CacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *CacheError) WithMetadata(key string, value interface{}) *CacheError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by retrying
func (e *CacheError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeFetchFailed, ErrCodeFetchTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *CacheError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidMethod:
		return http.StatusBadGateway
	case ErrCodePurgeForbidden:
		return http.StatusForbidden
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeBackendNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeFetchTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeFetchFailed, ErrCodeRetriesExhausted, ErrCodeCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new CacheError
func NewError(code ErrorCode, component, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with CacheError structure
func WrapError(err error, code ErrorCode, component, message string) *CacheError {
	if err == nil {
		return nil
	}

	return &CacheError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// NewFetchError classifies an origin transport failure
func NewFetchError(backendID string, cause error) *CacheError {
	code := ErrCodeFetchFailed
	var timeout interface{ Timeout() bool }
	if errors.As(cause, &timeout) && timeout.Timeout() {
		code = ErrCodeFetchTimeout
	}
	return WrapError(cause, code, "origin", fmt.Sprintf("fetch from backend %s failed", backendID)).
		WithMetadata("backend_id", backendID)
}

// NewRetriesExhaustedError reports that the retry policy gave up
func NewRetriesExhaustedError(attempts int, cause error) *CacheError {
	return WrapError(cause, ErrCodeRetriesExhausted, "fetcher",
		fmt.Sprintf("giving up after %d attempts", attempts)).
		WithMetadata("attempts", attempts)
}

// NewCircuitBreakerError creates a circuit breaker error
func NewCircuitBreakerError(backendID string) *CacheError {
	return NewError(
		ErrCodeCircuitBreakerOpen,
		"circuit_breaker",
		fmt.Sprintf("circuit breaker is open for backend %s", backendID),
	).WithMetadata("backend_id", backendID)
}

// NewBackendNotFoundError reports an unknown backend id
func NewBackendNotFoundError(id string) *CacheError {
	return NewError(ErrCodeBackendNotFound, "registry",
		fmt.Sprintf("backend with ID '%s' not found", id)).
		WithMetadata("backend_id", id)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var cErr *CacheError
	if errors.As(err, &cErr) {
		return cErr.Code
	}
	return ErrCodeInternalError
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var cErr *CacheError
	if errors.As(err, &cErr) {
		return cErr.IsRetryable()
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var cErr *CacheError
	if errors.As(err, &cErr) {
		return cErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
