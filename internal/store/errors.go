package store

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a store error carrying an HTTP-flavoured status code.
type Error struct {
	Code    int    // HTTP status code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so ErrTagNotFound is also ErrNotFound.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// WithMessage returns a new error with a custom message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "resource not found",
	}

	ErrAlreadyExists = &Error{
		Code:    http.StatusConflict,
		Message: "resource already exists",
	}

	// ErrBusy means the database could not take the write lock in time.
	// It is transient: the caller may retry the whole operation.
	ErrBusy = &Error{
		Code:    http.StatusServiceUnavailable,
		Message: "database busy",
	}

	ErrInvalidInput = &Error{
		Code:    http.StatusBadRequest,
		Message: "invalid input",
	}
)

// Specific not-found variants. All match ErrNotFound via errors.Is.
var (
	ErrTagNotFound         = ErrNotFound.WithMessage("tag not found")
	ErrAssociationNotFound = ErrNotFound.WithMessage("tag association not found")
	ErrVoteNotFound        = ErrNotFound.WithMessage("vote not found")
	ErrUserNotFound        = ErrNotFound.WithMessage("user not found")
)
