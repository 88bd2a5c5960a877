package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the closed set the HTTP layer knows how
// to map. Components return these; only handlers translate them to
// status codes.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidEvent     Kind = "invalid_event"
	KindRateLimited      Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindStoreUnavailable Kind = "store_unavailable"
	KindCacheUnavailable Kind = "cache_unavailable"
	KindConflict         Kind = "conflict"
	KindInternal         Kind = "internal"
)

// FieldError describes a single failed validation check.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the typed error every component raises.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches structured details to the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Unauthorized reports a missing, invalid or inactive credential.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Invalid reports a validation failure listing every failed field.
func Invalid(fields []FieldError) *Error {
	return New(KindInvalidEvent, "event validation failed").
		WithDetails(map[string]interface{}{"fields": fields})
}

// RateLimited reports an exceeded per-tenant window.
func RateLimited(retryAfterSeconds int) *Error {
	return New(KindRateLimited, "rate limit exceeded").
		WithDetails(map[string]interface{}{"retry_after_seconds": retryAfterSeconds})
}

// NotFound reports an absent entity.
func NotFound(entity string) *Error {
	return New(KindNotFound, entity+" not found")
}

// KindOf extracts the kind from any error, defaulting to internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
