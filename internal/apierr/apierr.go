package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP layer.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindUpstream
	KindInternal
)

// FieldError describes a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the service-wide error type. The HTTP layer maps Kind to a
// status code; everything below the HTTP layer returns plain errors and
// wraps them into an *Error at the boundary where the kind is known.
type Error struct {
	Kind    Kind
	Message string
	Details []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// BadRequest builds a validation error with optional field details.
func BadRequest(message string, details ...FieldError) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Details: details}
}

// Unauthorized builds an authentication error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// NotFound builds a missing-resource error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream wraps a remote API failure.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// Internal wraps an unclassified failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// From extracts an *Error from err, wrapping unknown errors as Internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
