// Package wardenerr defines the error-kind taxonomy surfaced across the
// client RPC boundary (spec.md §7).
package wardenerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the client RPC response.
type Kind string

const (
	InvalidRealmState      Kind = "InvalidRealmState"
	RealmNotFound          Kind = "RealmNotFound"
	ApplicationNotFound    Kind = "ApplicationNotFound"
	RealmConnectionTimeout Kind = "RealmConnectionTimeout"
	RealmResponseTimeout   Kind = "RealmResponseTimeout"
	RealmProtocolError     Kind = "RealmProtocolError"
	HypervisorError        Kind = "HypervisorError"
	NetworkError           Kind = "NetworkError"
	PersistenceError       Kind = "PersistenceError"
	InvalidConfig          Kind = "InvalidConfig"
	Internal               Kind = "Internal"
)

// Error wraps an underlying cause with a Kind so callers can map it onto
// the wire Error{kind, msg} response without re-parsing messages.
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

// New creates an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a Kind and message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
