// Package errors provides the unified ServiceError type used across the
// consent engine, use-case services, and saga orchestrator, modeled on the
// teacher's infrastructure/errors package but re-keyed to the error kind
// taxonomy of the Open Finance core (§7): SECURITY, AUTHORIZATION,
// VALIDATION, BUSINESS_RULE, IDEMPOTENCY_CONFLICT, CONCURRENCY, TRANSIENT,
// RESOURCE_NOT_FOUND, SERVICE_UNAVAILABLE, FATAL.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the §7 error kinds.
type Kind string

const (
	KindSecurity            Kind = "SECURITY"
	KindAuthorization        Kind = "AUTHORIZATION"
	KindValidation           Kind = "VALIDATION"
	KindBusinessRule         Kind = "BUSINESS_RULE"
	KindIdempotencyConflict  Kind = "IDEMPOTENCY_CONFLICT"
	KindConcurrency          Kind = "CONCURRENCY"
	KindTransient            Kind = "TRANSIENT"
	KindResourceNotFound     Kind = "RESOURCE_NOT_FOUND"
	KindServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	KindFatal                Kind = "FATAL"
)

// statusByKind implements the §6.1 status-code mapping table.
var statusByKind = map[Kind]int{
	KindSecurity:           http.StatusUnauthorized,
	KindAuthorization:      http.StatusForbidden,
	KindValidation:         http.StatusBadRequest,
	KindBusinessRule:       http.StatusUnprocessableEntity,
	KindIdempotencyConflict: http.StatusConflict,
	KindConcurrency:        http.StatusConflict,
	KindTransient:          http.StatusServiceUnavailable,
	KindResourceNotFound:   http.StatusNotFound,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindFatal:              http.StatusInternalServerError,
}

// ServiceError is the single error type surfaced by every domain and
// use-case package. It carries enough structure to render the §6.1
// user-visible error body ({errorCode, message}) while keeping internal
// diagnostic detail (Cause) out of the response.
type ServiceError struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Cause      error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As keep working across the
// chain, matching the teacher's ServiceError.Unwrap contract.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a structured detail and returns the receiver for
// chaining, mirroring infrastructure/errors.ServiceError.WithDetails.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code, message string) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: statusByKind[kind],
	}
}

func wrapError(kind Kind, code, message string, cause error) *ServiceError {
	e := newError(kind, code, message)
	e.Cause = cause
	return e
}

// Security constructs a SECURITY kind error (invalid token, invalid DPoP
// proof, missing/invalid FAPI header, unknown issuer).
func Security(code, message string) *ServiceError {
	return newError(KindSecurity, code, message)
}

// Authorization constructs an AUTHORIZATION kind error (consent not found,
// consent expired, scope missing, ownership mismatch).
func Authorization(code, message string) *ServiceError {
	return newError(KindAuthorization, code, message)
}

// Validation constructs a VALIDATION kind error (schema failure, integrity
// failure, malformed CSV row, payload too large).
func Validation(code, message string) *ServiceError {
	return newError(KindValidation, code, message)
}

// BusinessRule constructs a BUSINESS_RULE kind error (quote expired, quote
// already finalized, full-rejection-mode violation).
func BusinessRule(code, message string) *ServiceError {
	return newError(KindBusinessRule, code, message)
}

// IdempotencyConflict constructs an IDEMPOTENCY_CONFLICT error: same key,
// different request hash.
func IdempotencyConflict(message string) *ServiceError {
	return newError(KindIdempotencyConflict, "IDEMPOTENCY_CONFLICT", message)
}

// Concurrency constructs a CONCURRENCY error (optimistic version mismatch).
// Callers retry internally per §7's propagation policy.
func Concurrency(message string) *ServiceError {
	return newError(KindConcurrency, "CONCURRENCY", message)
}

// Transient wraps a retryable external-dependency failure.
func Transient(code, message string, cause error) *ServiceError {
	return wrapError(KindTransient, code, message, cause)
}

// ResourceNotFound constructs a RESOURCE_NOT_FOUND error for an unknown ID.
func ResourceNotFound(resource, id string) *ServiceError {
	return newError(KindResourceNotFound, "RESOURCE_NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// ServiceUnavailable constructs a SERVICE_UNAVAILABLE error (back-pressure,
// market closed, dependency unavailable).
func ServiceUnavailable(code, message string) *ServiceError {
	return newError(KindServiceUnavailable, code, message)
}

// Fatal wraps an invariant violation. Callers should log and alert, never
// retry.
func Fatal(message string, cause error) *ServiceError {
	return wrapError(KindFatal, "FATAL", message, cause)
}

// Is reports whether err is a ServiceError of the given kind.
func Is(err error, kind Kind) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// As extracts a *ServiceError from err's chain, if any.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	ok := errors.As(err, &se)
	return se, ok
}

// HTTPStatus returns the mapped HTTP status code for err, defaulting to 500
// for non-ServiceError values.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
