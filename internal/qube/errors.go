package qube

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these to classify a failure.
var (
	// ErrTransient covers timeouts and dropped connections to qubesd.
	ErrTransient = errors.New("transient external failure")
	// ErrUnknownEntity is returned for events about qubes or apps the menu
	// does not know.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrPersistence covers an unreadable or unwritable favorites store.
	ErrPersistence = errors.New("persistence failure")
	// ErrValidation rejects a user intent without touching any state.
	ErrValidation = errors.New("validation failure")
)

// Error carries the operation and subject of a classified failure.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientExternalFailure.
func Transient(op, subject string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Subject: subject, Err: err}
}

// Unknown reports an event or request about an entity the menu does not know.
func Unknown(op, subject string) error {
	return &Error{Kind: ErrUnknownEntity, Op: op, Subject: subject}
}

// Persistence wraps a favorites store failure.
func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// Invalid reports a rejected intent.
func Invalid(op, subject, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}
