// Package apperr is the error taxonomy shared by the dispatch core and its
// transports. Every error a caller can act on carries a Kind, a stable
// machine-readable Code and a user-facing Message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindUpstream      Kind = "upstream_unavailable"
	KindNoCapacity    Kind = "no_capacity"
	KindInvalidAction Kind = "invalid_action"
	KindNotFound      Kind = "not_found"
	KindUnauthorized  Kind = "unauthorized"
	KindInternal      Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Retryable tells the client the same request may succeed later
	// (no drivers right now, provider hiccup) as opposed to a terminal refusal.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Upstream(code, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: msg, Retryable: true, Err: err}
}

func NoCapacity(msg string) *Error {
	return &Error{Kind: KindNoCapacity, Code: "no_drivers_available", Message: msg, Retryable: true}
}

func InvalidAction(code, msg string, retryable bool) *Error {
	return &Error{Kind: KindInvalidAction, Code: code, Message: msg, Retryable: retryable}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Unauthorized means the caller's identity is missing, invalid or does not
// match the participant it claims to act as.
func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: msg, Err: err}
}

// As extracts an *Error from err. Unknown errors are reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal server error", err)
}

func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return ""
}
