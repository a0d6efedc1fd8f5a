// Package apperr defines the error kinds returned by the membership,
// group and distribution engines.
//
// Every engine failure is an *Error carrying a Kind and a message safe to
// show the caller. Callers branch with errors.Is against the sentinels:
//
//	if errors.Is(err, apperr.ErrConflict) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInvalidArgument Kind = "invalid_argument"
	KindExpired         Kind = "expired"
	KindAlreadyConsumed Kind = "already_consumed"
	KindInternal        Kind = "internal"
)

// Sentinels, one per kind. Any *Error matches the sentinel of its kind.
var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrForbidden       = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrNotFound        = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict        = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrExpired         = &Error{Kind: KindExpired, Msg: "access has expired"}
	ErrAlreadyConsumed = &Error{Kind: KindAlreadyConsumed, Msg: "document has already been viewed"}
	ErrInternal        = &Error{Kind: KindInternal, Msg: "internal error"}
)

// Error is a classified failure. Msg is shown to clients; Err is the
// underlying cause and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns an *Error of kind k with a client-facing message.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf is New with formatting.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause as kind k.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Err: cause}
}

// Internal wraps an unexpected failure. The message is masked for clients.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: op, Err: cause}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message for err. Internal errors are
// masked.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return ErrInternal.Msg
}
