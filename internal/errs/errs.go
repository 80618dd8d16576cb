// Package errs defines the structured error kinds that cross the public
// contract of every operation. Internal storage and transport failures are
// wrapped into one of these kinds at each operation boundary; no raw driver
// error escapes to callers.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	// InvalidArgument means malformed or missing input — a caller bug,
	// not retryable as-is.
	InvalidArgument Kind = "invalid_argument"

	// NotFound means a referenced identity or entity does not exist.
	NotFound Kind = "not_found"

	// Unauthorized means the caller is authenticated but lacks the
	// relation or permission (e.g. sending without a match).
	Unauthorized Kind = "unauthorized"

	// Unauthenticated means no verified caller identity was supplied.
	Unauthenticated Kind = "unauthenticated"

	// Conflict means a concurrent state change invalidated the request;
	// safe to retry.
	Conflict Kind = "conflict"

	// Unavailable means a storage or transport dependency failed;
	// retryable with backoff.
	Unavailable Kind = "unavailable"
)

// Error carries a stable kind plus a human-readable detail message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Errors that carry no kind
// are reported as Unavailable, matching the propagation policy: anything
// unclassified is an infrastructure failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unavailable
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
