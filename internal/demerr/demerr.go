// Package demerr defines the closed error taxonomy shared by every component
// of the runtime. Fallible operations return a *Error (or wrap one) instead
// of panicking; panics are reserved for programmer misuse at API edges (for
// example, requesting a spawn past the hard depth cap).
package demerr

import (
	"errors"
	"fmt"
)

// Kind is a coarse, closed classification of a failure. It is the taxonomy
// from which CLI exit codes, retry policy, and user-visible messages are all
// derived.
type Kind string

const (
	InvalidInput     Kind = "invalid_input"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	LockContention   Kind = "lock_contention"
	LockStale        Kind = "lock_stale"
	BudgetExceeded   Kind = "budget_exceeded"
	RateLimited      Kind = "rate_limited"
	Unauthorized     Kind = "unauthorized"
	ModelUnavailable Kind = "model_unavailable"
	NoSuitableModel  Kind = "no_suitable_model"
	Cancelled        Kind = "cancelled"
	Corrupted        Kind = "corrupted"
	Network          Kind = "network"
	Storage          Kind = "storage"
	Other            Kind = "other"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error that chains to cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As traverse the chain.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, enabling
// errors.Is(err, demerr.New(demerr.NotFound, "", "")) style checks, and the
// narrower kind-only comparison used throughout the codebase via Is(err, kind).
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// Of reports whether err is a *Error (directly or in its chain) of the given
// Kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting to
// Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
