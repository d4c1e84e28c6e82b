// Package apierror is the closed error vocabulary of the HTTP pipeline.
// Feature code never sees transport errors or raw responses, only *Error.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindAPI            Kind = "api"
)

// Sentinels for errors.Is. (*Error).Is matches them by kind.
var (
	ErrNetwork        = errors.New("network error")
	ErrAuthentication = errors.New("authentication error")
	ErrValidation     = errors.New("validation error")
	ErrAPI            = errors.New("api error")
)

// Error is the ErrorRecord: kind, server code, message, optional per-field
// messages and the original cause for diagnostics.
type Error struct {
	Kind        Kind
	Code        int
	Message     string
	FieldErrors map[string][]string
	Cause       error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error %d: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrAPI:
		return e.Kind == KindAPI
	}
	return false
}

// FieldError returns the first message recorded for field, if any.
func (e *Error) FieldError(field string) (string, bool) {
	msgs := e.FieldErrors[field]
	if len(msgs) == 0 {
		return "", false
	}
	return msgs[0], true
}

func NewNetworkError(cause error) *Error {
	msg := "network request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindNetwork, Message: msg, Cause: cause}
}

func NewAuthenticationError(code int, message string, cause error) *Error {
	if message == "" {
		message = http.StatusText(http.StatusUnauthorized)
	}
	return &Error{Kind: KindAuthentication, Code: code, Message: message, Cause: cause}
}

func NewValidationError(code int, message string, fieldErrors map[string][]string, cause error) *Error {
	if fieldErrors == nil {
		fieldErrors = map[string][]string{}
	}
	return &Error{Kind: KindValidation, Code: code, Message: message, FieldErrors: fieldErrors, Cause: cause}
}

func NewAPIError(code int, message string, cause error) *Error {
	return &Error{Kind: KindAPI, Code: code, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
