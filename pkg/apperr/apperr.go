// Package apperr defines the structured domain errors returned by services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Handlers map kinds to HTTP status codes;
// services never return raw errors for expected failure modes.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAccessDenied       Kind = "access_denied"
	KindInsufficientRole   Kind = "insufficient_role"
	KindForbidden          Kind = "forbidden"
	KindInvalidEnum        Kind = "invalid_enum"
	KindInvalidReference   Kind = "invalid_reference"
	KindScopeViolation     Kind = "scope_violation"
	KindInvariantViolation Kind = "invariant_violation"
	KindAlreadyMember      Kind = "already_member"
	KindEmailMismatch      Kind = "email_mismatch"
	KindInvalid            Kind = "invalid"
	KindConflict           Kind = "conflict"
	KindValidation         Kind = "validation"
)

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a domain error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
