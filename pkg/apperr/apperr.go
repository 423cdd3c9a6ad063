// Package apperr is the error taxonomy shared by the HTTP and realtime surfaces.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Unauthorized
	InvalidCredentials
	Conflict
	NotFound
	Forbidden
	AlreadyMember
	Validation
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidCredentials:
		return "invalid_credentials"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case AlreadyMember:
		return "already_member"
	case Validation:
		return "validation"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error carries a Kind and a message that is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns Internal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage hides internal causes.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "Server error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidCredentials, Conflict, AlreadyMember, Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
