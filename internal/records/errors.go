package records

import "github.com/pkg/errors"

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrRejected    = errors.New("rejected")
	ErrInvalid     = errors.New("invalid")
	ErrUnavailable = errors.New("unavailable")
)

// ErrDuplicate is returned by a Store when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

// Error is a business failure with a message safe to show to the caller.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// Cause returns the underlying failure, if any.
func (e *Error) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	return e.Kind
}

func newError(kind error, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func unavailable(cause error, msg string) error {
	return &Error{Kind: ErrUnavailable, Message: msg, cause: cause}
}

// KindOf returns the kind of err. Unknown errors count as unavailable.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnavailable
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch KindOf(err) {
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrRejected:
		return "rejected"
	case ErrInvalid:
		return "invalid"
	default:
		return "unavailable"
	}
}
