// Package domain provides the canonical value types shared across the
// gateway's pipeline stages: error taxonomy, envelopes, principals, route
// metadata, and the per-component state records.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType is the stable, client-visible error kind. Clients may
// pattern-match on this field across releases.
type ErrorType string

const (
	ErrorTypeBadRequest         ErrorType = "BadRequest"
	ErrorTypeUnauthorized       ErrorType = "Unauthorized"
	ErrorTypeForbidden          ErrorType = "Forbidden"
	ErrorTypeNotFound           ErrorType = "NotFound"
	ErrorTypeConflict           ErrorType = "Conflict"
	ErrorTypeValidation         ErrorType = "ValidationError"
	ErrorTypeTooManyRequests    ErrorType = "TooManyRequests"
	ErrorTypePayloadTooLarge    ErrorType = "PayloadTooLarge"
	ErrorTypeGatewayTimeout     ErrorType = "GatewayTimeout"
	ErrorTypeServiceUnavailable ErrorType = "ServiceUnavailable"
	ErrorTypeInternal           ErrorType = "InternalServerError"
)

// ErrorCode is the stable machine-readable code clients may match against.
type ErrorCode string

const (
	ErrCodeAuthenticationFailed ErrorCode = "ERR_AUTHENTICATION_FAILED"
	ErrCodeInsufficientPerms    ErrorCode = "ERR_INSUFFICIENT_PERMISSIONS"
	ErrCodeResourceNotFound     ErrorCode = "ERR_RESOURCE_NOT_FOUND"
	ErrCodeRateLimitExceeded    ErrorCode = "ERR_RATE_LIMIT_EXCEEDED"
	ErrCodeServiceUnavailable   ErrorCode = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout       ErrorCode = "ERR_GATEWAY_TIMEOUT"
	ErrCodeFileTooLarge         ErrorCode = "ERR_FILE_TOO_LARGE"
	ErrCodeValidation           ErrorCode = "ERR_VALIDATION"
	ErrCodeInternal             ErrorCode = "ERR_INTERNAL"
)

// ValidationFieldError names one field that failed validation.
type ValidationFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// GatewayError is the canonical, typed failure every component returns
// instead of an opaque error. The ExceptionMapper (internal/gatewayerr) is
// the single place that turns one of these into an ErrorEnvelope; no other
// stage inspects or rewrites it.
type GatewayError struct {
	Type             ErrorType
	Code             ErrorCode
	Message          string
	ValidationErrors []ValidationFieldError
	StatusCode       int
	Cause            error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// HTTPStatusCode returns the status code for this error, defaulting by type
// when none was explicitly set.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeBadRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeGatewayTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newErr(t ErrorType, code ErrorCode, message string) *GatewayError {
	return &GatewayError{Type: t, Code: code, Message: message}
}

// NewBadRequest builds a BadRequest gateway error.
func NewBadRequest(message string) *GatewayError {
	return newErr(ErrorTypeBadRequest, "", message)
}

// NewUnauthorized builds an Unauthorized gateway error.
func NewUnauthorized(message string) *GatewayError {
	return newErr(ErrorTypeUnauthorized, ErrCodeAuthenticationFailed, message)
}

// NewForbidden builds a Forbidden gateway error.
func NewForbidden(message string) *GatewayError {
	return newErr(ErrorTypeForbidden, ErrCodeInsufficientPerms, message)
}

// NewNotFound builds a NotFound gateway error.
func NewNotFound(message string) *GatewayError {
	return newErr(ErrorTypeNotFound, ErrCodeResourceNotFound, message)
}

// NewConflict builds a Conflict gateway error.
func NewConflict(message string) *GatewayError {
	return newErr(ErrorTypeConflict, "", message)
}

// NewValidation builds a ValidationError gateway error carrying the
// offending field list.
func NewValidation(message string, fields []ValidationFieldError) *GatewayError {
	e := newErr(ErrorTypeValidation, ErrCodeValidation, message)
	e.ValidationErrors = fields
	return e
}

// NewTooManyRequests builds a TooManyRequests gateway error.
func NewTooManyRequests(message string) *GatewayError {
	return newErr(ErrorTypeTooManyRequests, ErrCodeRateLimitExceeded, message)
}

// NewPayloadTooLarge builds a PayloadTooLarge gateway error.
func NewPayloadTooLarge(message string) *GatewayError {
	return newErr(ErrorTypePayloadTooLarge, ErrCodeFileTooLarge, message)
}

// NewGatewayTimeout builds a GatewayTimeout gateway error.
func NewGatewayTimeout(message string) *GatewayError {
	return newErr(ErrorTypeGatewayTimeout, ErrCodeGatewayTimeout, message)
}

// NewServiceUnavailable builds a ServiceUnavailable gateway error.
func NewServiceUnavailable(message string) *GatewayError {
	return newErr(ErrorTypeServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// NewInternal builds an InternalServerError gateway error.
func NewInternal(message string) *GatewayError {
	return newErr(ErrorTypeInternal, ErrCodeInternal, message)
}

// WithCause attaches the underlying error for logging (never serialized to
// the client envelope).
func (e *GatewayError) WithCause(err error) *GatewayError {
	e.Cause = err
	return e
}
