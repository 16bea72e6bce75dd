// Package kernelerr defines the typed error taxonomy shared by every
// collaboration-core package. Errors cross package boundaries as values,
// never as panics.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the error taxonomy a value belongs to,
// so callers can switch on it with errors.Is against the sentinels below.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindAlreadyExists          Kind = "already_exists"
	KindProtocolViolation      Kind = "protocol_violation"
	KindMissingCausalDependency Kind = "missing_causal_dependency"
	KindConflict               Kind = "conflict"
	KindPermissionDenied       Kind = "permission_denied"
	KindToolNotFound           Kind = "tool_not_found"
	KindIoFailure              Kind = "io_failure"
	KindOutOfBounds            Kind = "out_of_bounds"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrProtocolViolation      = errors.New("protocol violation")
	ErrMissingCausalDependency = errors.New("missing causal dependency")
	ErrConflict               = errors.New("conflict")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrToolNotFound           = errors.New("tool not found")
	ErrIoFailure              = errors.New("io failure")
	ErrOutOfBounds            = errors.New("out of bounds")
)

var sentinelByKind = map[Kind]error{
	KindNotFound:               ErrNotFound,
	KindAlreadyExists:          ErrAlreadyExists,
	KindProtocolViolation:      ErrProtocolViolation,
	KindMissingCausalDependency: ErrMissingCausalDependency,
	KindConflict:               ErrConflict,
	KindPermissionDenied:       ErrPermissionDenied,
	KindToolNotFound:           ErrToolNotFound,
	KindIoFailure:              ErrIoFailure,
	KindOutOfBounds:            ErrOutOfBounds,
}

// Error wraps a Kind with a human-readable message and an optional cause,
// so context.Context-style call chains can both errors.Is against the
// sentinel and read a useful message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{sentinelByKind[e.Kind], e.Cause}
	}
	return []error{sentinelByKind[e.Kind]}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func AlreadyExists(format string, args ...any) *Error {
	return New(KindAlreadyExists, format, args...)
}

func ProtocolViolation(format string, args ...any) *Error {
	return New(KindProtocolViolation, format, args...)
}

func MissingCausalDependency(format string, args ...any) *Error {
	return New(KindMissingCausalDependency, format, args...)
}

func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func ToolNotFound(format string, args ...any) *Error {
	return New(KindToolNotFound, format, args...)
}

func IoFailure(cause error, format string, args ...any) *Error {
	return Wrap(KindIoFailure, cause, format, args...)
}

func OutOfBounds(format string, args ...any) *Error { return New(KindOutOfBounds, format, args...) }

// Is reports whether err's Kind matches kind, walking the wrapped chain.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}
