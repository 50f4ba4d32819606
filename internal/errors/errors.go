// Package errors provides the typed error taxonomy shared by the portfolio services.
//
// Every error that crosses an HTTP boundary is a *ServiceError carrying a stable
// machine-readable code and the HTTP status it maps to. Lower layers wrap their
// causes with fmt.Errorf("...: %w", err); the handlers classify with As/Is helpers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable identifier rendered to API clients.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeNoLiquidity         ErrorCode = "NO_LIQUIDITY"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type returned by the engine for anything a caller may see.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches another *ServiceError by code, so errors.Is(err, &ServiceError{Code: CodeNoLiquidity})
// works regardless of message.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail attaches a key/value pair rendered under "details".
func (e *ServiceError) WithDetail(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// =============================================================================
// Constructors
// =============================================================================

// Validation reports malformed caller input. Never retried.
func Validation(field, message string) *ServiceError {
	msg := message
	if field != "" {
		msg = field + ": " + message
	}
	return &ServiceError{
		Code:       CodeValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Required is a Validation error for a missing field.
func Required(field string) *ServiceError {
	return Validation(field, "is required")
}

// NoLiquidity reports that an upstream answered but had no route or no data.
func NoLiquidity(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeNoLiquidity,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NotFound reports an unknown resource, e.g. an unconfigured source name.
func NotFound(resource, id string) *ServiceError {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    msg,
		HTTPStatus: http.StatusNotFound,
	}
}

// Upstream reports a failed call to an external provider.
func Upstream(provider string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUpstreamUnavailable,
		Message:    fmt.Sprintf("upstream %s unavailable", provider),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// RateLimitExceeded is returned by the rate limiting middleware.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Internal wraps an unexpected failure. The cause is logged, never rendered.
func Internal(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// =============================================================================
// Classification
// =============================================================================

// As returns the *ServiceError in err's chain, if any.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// FromError converts any error into a *ServiceError, treating unknown errors as internal.
func FromError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	return Internal(err)
}

func hasCode(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

func IsValidation(err error) bool  { return hasCode(err, CodeValidation) }
func IsNoLiquidity(err error) bool { return hasCode(err, CodeNoLiquidity) }
func IsNotFound(err error) bool    { return hasCode(err, CodeNotFound) }
func IsUpstream(err error) bool    { return hasCode(err, CodeUpstreamUnavailable) }

// IsInternal reports whether err renders as INTERNAL_ERROR, including plain errors.
func IsInternal(err error) bool { return err != nil && FromError(err).Code == CodeInternal }
