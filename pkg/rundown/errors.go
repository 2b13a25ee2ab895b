package rundown

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Kind classifies errors returned by the store and by the sync engine.
type Kind string

const (
	// KindValidation errors are rejected before any backend call; no state changes.
	KindValidation Kind = "validation"

	// KindNotFound errors report a missing rundown, block or item.
	KindNotFound Kind = "not_found"

	// KindBackend errors are network or server failures of a backend call.
	KindBackend Kind = "backend"

	// KindConflict errors report a request that is valid but not allowed in the current state.
	KindConflict Kind = "conflict"
)

// Error is a typed error carrying the failing operation and its kind.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap attaches a kind and operation to an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for the given entity and id.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s not found: %s", entity, id), Err: redis.Nil}
}

// KindOf returns the kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation returns true for errors rejected before reaching the backend.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsBackend returns true for backend call failures.
func IsBackend(err error) bool {
	return KindOf(err) == KindBackend
}

// IsNotFound returns true if the error reports a missing entity.
// Raw redis.Nil errors are treated as not-found too.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound || errors.Is(err, redis.Nil)
}
