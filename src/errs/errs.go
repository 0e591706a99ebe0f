// Package errs defines the relay's error taxonomy.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for reporting back to a client.
type Kind string

const (
	KindAuthentication Kind = "unauthorized"
	KindValidation     Kind = "invalid_payload"
	KindPersistence    Kind = "persistence_failed"
	KindInternal       Kind = "internal"
)

// Error carries a Kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrPersistence    = &Error{Kind: KindPersistence}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target has no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Authentication wraps a credential failure.
func Authentication(err error, msg string) error {
	return &Error{Kind: KindAuthentication, Message: msg, Err: err}
}

// Validation reports a malformed inbound payload.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage collaborator failure.
func Persistence(err error, msg string) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: errors.WithStack(err)}
}

// KindOf returns the kind of err, or KindInternal if it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the text safe to show to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
