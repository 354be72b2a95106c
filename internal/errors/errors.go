package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Model editing errors
	ErrCodeMissingField          ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidField          ErrorCode = "INVALID_FIELD"
	ErrCodeInvalidName           ErrorCode = "INVALID_NAME"
	ErrCodeDuplicateName         ErrorCode = "DUPLICATE_NAME"
	ErrCodeEmptyPool             ErrorCode = "EMPTY_POOL"
	ErrCodePoolInUse             ErrorCode = "POOL_IN_USE"
	ErrCodePoolNotFound          ErrorCode = "POOL_NOT_FOUND"
	ErrCodeServerNotFound        ErrorCode = "SERVER_NOT_FOUND"
	ErrCodeRuleNotFound          ErrorCode = "RULE_NOT_FOUND"
	ErrCodeUnknownBackend        ErrorCode = "UNKNOWN_BACKEND"
	ErrCodeEmptyPattern          ErrorCode = "EMPTY_PATTERN"
	ErrCodeInvalidPattern        ErrorCode = "INVALID_PATTERN"
	ErrCodeDuplicateIdentifier   ErrorCode = "DUPLICATE_IDENTIFIER"
	ErrCodeEmptyBackendPool      ErrorCode = "EMPTY_BACKEND_POOL"
	ErrCodeDanglingRuleReference ErrorCode = "DANGLING_RULE_REFERENCE"
	ErrCodeInvalidDefaultBackend ErrorCode = "INVALID_DEFAULT_BACKEND"
	ErrCodeIncompatibleMode      ErrorCode = "INCOMPATIBLE_MODE"

	// Record errors
	ErrCodeInvalidRecord    ErrorCode = "INVALID_RECORD"
	ErrCodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Compile and apply errors
	ErrCodeCompileFailed ErrorCode = "COMPILE_FAILED"
	ErrCodeApplyFailed   ErrorCode = "APPLY_FAILED"

	// Infrastructure errors
	ErrCodeConfigLoad ErrorCode = "CONFIG_LOAD_FAILED"

	// Admin API errors
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeRouteNotFound        ErrorCode = "ROUTE_NOT_FOUND"
	ErrCodeMethodNotAllowed     ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// RoutingError represents a structured error with context
type RoutingError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *RoutingError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *RoutingError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *RoutingError) Is(target error) bool {
	if t, ok := target.(*RoutingError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *RoutingError) WithMetadata(key string, value interface{}) *RoutingError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsInternal reports whether the error indicates a programming error rather
// than something the operator can correct.
func (e *RoutingError) IsInternal() bool {
	switch e.Code {
	case ErrCodeCompileFailed, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *RoutingError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidRequest, ErrCodeInvalidRecord:
		return http.StatusBadRequest
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeRecordNotFound, ErrCodePoolNotFound, ErrCodeServerNotFound, ErrCodeRuleNotFound, ErrCodeRouteNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeDuplicateName, ErrCodePoolInUse:
		return http.StatusConflict
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeApplyFailed:
		return http.StatusBadGateway
	case ErrCodeCompileFailed, ErrCodeInternalError, ErrCodeConfigLoad:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// NewError creates a new RoutingError
func NewError(code ErrorCode, component, message string) *RoutingError {
	return &RoutingError{
		Code:      code,
		Component: component,
		Message:   message,
	}
}

// NewErrorWithCause creates a new RoutingError with an underlying cause
func NewErrorWithCause(code ErrorCode, component, message string, cause error) *RoutingError {
	e := NewError(code, component, message)
	if cause != nil {
		e.Cause = cause
		e.Details = cause.Error()
	}
	return e
}

// WrapError wraps an existing error with RoutingError structure
func WrapError(err error, code ErrorCode, component, message string) *RoutingError {
	if err == nil {
		return nil
	}
	return NewErrorWithCause(code, component, message, err)
}

// Common error constructors for frequently used errors

// NewMissingFieldError reports a required field left empty
func NewMissingFieldError(component, field string) *RoutingError {
	return NewError(
		ErrCodeMissingField,
		component,
		fmt.Sprintf("%s is required", field),
	).WithMetadata("field", field)
}

// NewInvalidFieldError reports a field with an unusable value
func NewInvalidFieldError(component, field, value string) *RoutingError {
	return NewError(
		ErrCodeInvalidField,
		component,
		fmt.Sprintf("invalid %s %q", field, value),
	).WithMetadata("field", field).WithMetadata("value", value)
}

// NewPoolNotFoundError reports a reference to a pool that does not exist
func NewPoolNotFoundError(component, pool string) *RoutingError {
	return NewError(
		ErrCodePoolNotFound,
		component,
		fmt.Sprintf("backend pool %q not found", pool),
	).WithMetadata("pool", pool)
}

// NewUnknownBackendError reports a rule or default pointing at a missing pool
func NewUnknownBackendError(component, backend string) *RoutingError {
	return NewError(
		ErrCodeUnknownBackend,
		component,
		fmt.Sprintf("backend %q is neither the system backend nor an existing pool", backend),
	).WithMetadata("backend", backend)
}

// NewRecordNotFoundError reports a missing domain record
func NewRecordNotFoundError(domain string) *RoutingError {
	return NewError(
		ErrCodeRecordNotFound,
		"store",
		fmt.Sprintf("no routing record for domain %q", domain),
	).WithMetadata("domain", domain)
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(clientIP string) *RoutingError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"rate_limiter",
		fmt.Sprintf("Rate limit exceeded for client %s", clientIP),
	).WithMetadata("client_ip", clientIP)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(reason string) *RoutingError {
	return NewError(
		ErrCodeAuthenticationFailed,
		"auth",
		fmt.Sprintf("Authentication failed: %s", reason),
	).WithMetadata("reason", reason)
}

// ValidationErrors is the complete set of violations found in one model.
type ValidationErrors []*RoutingError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(v), strings.Join(msgs, "; "))
}

// Has reports whether any violation carries the given code
func (v ValidationErrors) Has(code ErrorCode) bool {
	for _, e := range v {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the violation codes in report order
func (v ValidationErrors) Codes() []ErrorCode {
	codes := make([]ErrorCode, len(v))
	for i, e := range v {
		codes[i] = e.Code
	}
	return codes
}

// Err returns nil when there are no violations, so callers can write
// `if err := validation.Validate(m).Err(); err != nil`.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// NewValidationFailedError wraps a violation set for callers that need a single RoutingError
func NewValidationFailedError(component string, violations ValidationErrors) *RoutingError {
	return NewErrorWithCause(
		ErrCodeValidationFailed,
		component,
		"routing model failed validation",
		violations,
	).WithMetadata("violations", violations)
}

// Helper functions

// IsRoutingError checks if an error is a RoutingError
func IsRoutingError(err error) bool {
	var rErr *RoutingError
	return errors.As(err, &rErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var rErr *RoutingError
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether err is, or wraps, a RoutingError with code.
// ValidationErrors match if any of their violations carries the code.
func HasCode(err error, code ErrorCode) bool {
	var violations ValidationErrors
	if errors.As(err, &violations) && violations.Has(code) {
		return true
	}
	return errors.Is(err, &RoutingError{Code: code})
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var violations ValidationErrors
	if errors.As(err, &violations) {
		return http.StatusUnprocessableEntity
	}
	var rErr *RoutingError
	if errors.As(err, &rErr) {
		return rErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
