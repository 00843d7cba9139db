// Package apperr defines the closed set of domain error kinds shared by the
// services, stores and handlers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidationFailed      Kind = "VALIDATION_FAILED"
	KindNotFound              Kind = "NOT_FOUND"
	KindAlreadyFinal          Kind = "ALREADY_FINAL"
	KindInvalidState          Kind = "INVALID_STATE"
	KindConnectionGone        Kind = "CONNECTION_GONE"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindDecodeError           Kind = "DECODE_ERROR"
	KindBadRequest            Kind = "BAD_REQUEST"
	KindUnauthorized          Kind = "UNAUTHORIZED"
)

// Error carries a kind, the failing operation and a message safe to show to
// callers. Err holds the underlying cause and is never rendered to clients.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels like ErrNotFound work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

var (
	ErrValidationFailed      = &Error{Kind: KindValidationFailed}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrAlreadyFinal          = &Error{Kind: KindAlreadyFinal}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrConnectionGone        = &Error{Kind: KindConnectionGone}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrDecode                = &Error{Kind: KindDecodeError}
	ErrBadRequest            = &Error{Kind: KindBadRequest}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op, msg string) *Error { return New(KindNotFound, op, msg) }

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Op: op, Msg: "dependency unavailable", Err: err}
}

// KindOf reports the kind of the first *Error in err's chain. Errors from
// outside the taxonomy are treated as DependencyUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyUnavailable
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if KindOf(err) == KindDependencyUnavailable {
		return "internal error"
	}
	return string(KindOf(err))
}

// IsNoop reports whether err describes a state transition that was skipped
// because the target record is absent or already final.
func IsNoop(err error) bool {
	k := KindOf(err)
	return k == KindNotFound || k == KindAlreadyFinal
}
