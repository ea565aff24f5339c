// Package apperr carries the error kinds exposed at the RPC boundary
// (SPEC_FULL.md §7) through the call stack without forcing every internal
// package to know about HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport/RPC layer.
type Kind string

const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	Conflict     Kind = "conflict"
	Unauthorized Kind = "unauthorized"
	Upstream     Kind = "upstream"
	Transport    Kind = "transport"
	Internal     Kind = "internal"
)

// Error is a Kind-carrying error. Internal packages wrap it with
// fmt.Errorf("...: %w", err) as it travels up the stack; the RPC layer
// unwraps with errors.As to recover the Kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf unwraps err looking for an *Error and returns its Kind, defaulting
// to Internal when err carries no classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
