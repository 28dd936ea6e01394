package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain failures.
type ErrorKind string

const (
	ErrMissingField   ErrorKind = "missing_field"
	ErrInvalidSkillID ErrorKind = "invalid_skill_id"
	ErrNotFound       ErrorKind = "not_found"
	ErrAccessDenied   ErrorKind = "access_denied"
	ErrUnexpected     ErrorKind = "unexpected"
)

// Error is a typed domain error. Message is safe to return to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an unexpected-kind error carrying cause.
func Wrap(cause error, message string) *Error {
	return &Error{Kind: ErrUnexpected, Message: message, Cause: cause}
}

// KindOf reports the kind of err. Errors that are not *Error are unexpected.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnexpected
}

// IsKind reports whether err is a domain error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
