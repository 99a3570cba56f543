package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind enumerates the single error taxonomy at the core boundary.
type ErrorKind string

const (
	ErrNotFound          ErrorKind = "not_found"
	ErrConflict          ErrorKind = "conflict"
	ErrInvalidInput      ErrorKind = "invalid_input"
	ErrTransport         ErrorKind = "transport"
	ErrParse             ErrorKind = "parse"
	ErrEmbedding         ErrorKind = "embedding"
	ErrResourceExhausted ErrorKind = "resource_exhausted"
	ErrCancelled         ErrorKind = "cancelled"
	ErrInternal          ErrorKind = "internal"
)

// Error is the typed error returned by every core operation.
type Error struct {
	Kind   ErrorKind
	Entity string // entity kind or resource name ("code_unit", "pool", ...)
	ID     string // offending identifier, when applicable
	Reason string
	// Optimistic-concurrency detail (conflict errors only).
	ExpectedVersion int64
	ActualVersion   int64
	// Wrapped transport/parse cause.
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
	case ErrConflict:
		return fmt.Sprintf("version conflict on %s %s: expected %d, actual %d",
			e.Entity, e.ID, e.ExpectedVersion, e.ActualVersion)
	case ErrInvalidInput:
		return fmt.Sprintf("invalid input: %s", e.Reason)
	case ErrTransport:
		return fmt.Sprintf("transport error: %v", e.Inner)
	case ErrParse:
		return fmt.Sprintf("parse error in %s: %s", e.Entity, e.Reason)
	case ErrEmbedding:
		return fmt.Sprintf("embedding error: %s", e.Reason)
	case ErrResourceExhausted:
		return fmt.Sprintf("resource exhausted: %s", e.Entity)
	case ErrCancelled:
		return "operation cancelled"
	default:
		return fmt.Sprintf("internal error: %s", e.Reason)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Inner }

// Is matches errors by kind so callers can test against sentinel values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Entity == "" || t.Entity == e.Entity)
}

// NotFound builds a not-found error for an entity kind and id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

// Conflict builds an optimistic-concurrency conflict error.
func Conflict(entity, id string, expected, actual int64) *Error {
	return &Error{Kind: ErrConflict, Entity: entity, ID: id,
		ExpectedVersion: expected, ActualVersion: actual}
}

// InvalidInput builds an invalid-input error.
func InvalidInput(reason string) *Error {
	return &Error{Kind: ErrInvalidInput, Reason: reason}
}

// Transport wraps a DB/network failure.
func Transport(inner error) *Error {
	return &Error{Kind: ErrTransport, Inner: inner}
}

// ParseFailure builds a parse error for a file.
func ParseFailure(file, reason string) *Error {
	return &Error{Kind: ErrParse, Entity: file, Reason: reason}
}

// EmbeddingFailure builds an embedding error.
func EmbeddingFailure(reason string, inner error) *Error {
	return &Error{Kind: ErrEmbedding, Reason: reason, Inner: inner}
}

// ResourceExhausted builds a resource-exhaustion error for a resource kind
// (pool, channel, memory).
func ResourceExhausted(kind string) *Error {
	return &Error{Kind: ErrResourceExhausted, Entity: kind}
}

// Cancelled builds a cancellation error.
func Cancelled() *Error {
	return &Error{Kind: ErrCancelled}
}

// Internal builds an internal error.
func Internal(reason string, inner error) *Error {
	return &Error{Kind: ErrInternal, Reason: reason, Inner: inner}
}

// KindOf extracts the taxonomy kind from any error, ErrInternal when the
// error is not a core Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
