// Package apierr defines the hub's abstract error taxonomy (spec §7).
// Kinds are never mapped to transport codes inside the core; boundary
// handlers (internal/hubapi, internal/collab) translate them for their
// respective wire formats.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds from spec §7.
type Kind string

const (
	NotFound      Kind = "NOT_FOUND"
	LockHeld      Kind = "LOCK_HELD"
	InvalidInput  Kind = "INVALID_INPUT"
	Contradiction Kind = "CONTRADICTION"
	Degraded      Kind = "DEGRADED"
)

// Error is a typed domain error carrying an abstract Kind and a
// human-readable message, the tagged-sum result type spec §9 calls for
// in place of exceptions.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
