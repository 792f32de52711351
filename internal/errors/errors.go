package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the identity-provider style error code that callers key user-facing messages off.
type Code string

const (
	CodeCredentialRejected    Code = "NotAuthorizedException"
	CodeAccountUnconfirmed    Code = "UserNotConfirmedException"
	CodePasswordResetRequired Code = "PasswordResetRequiredException"
	CodeNewPasswordRequired   Code = "NEW_PASSWORD_REQUIRED"
	CodeUserNotFound          Code = "UserNotFoundException"
	CodeRefreshUnavailable    Code = "REFRESH_UNAVAILABLE"
	CodeRefreshRejected       Code = "REFRESH_REJECTED"
	CodeNetworkUnreachable    Code = "NETWORK_UNREACHABLE"
	CodeServerError           Code = "SERVER_ERROR"
	CodeMalformedToken        Code = "MALFORMED_TOKEN"
	CodeUnknown               Code = "UNKNOWN"
)

var (
	// Session errors
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrNoSession      = errors.New("no session")
	ErrAuthInProgress = errors.New("authentication already in progress")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// AuthError carries the provider error code alongside the underlying cause.
type AuthError struct {
	Code    Code
	Message string
	Err     error
}

func NewAuthError(code Code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPError describes a failed call to a backend service. Status 0 means the
// request never produced a response.
type HTTPError struct {
	Status     int
	StatusText string
	Message    string
	Data       map[string]any
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("unreachable: %s", e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.StatusText, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from a backend service.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// CodeOf classifies err into the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}

	switch {
	case errors.Is(err, ErrNoRefreshToken), errors.Is(err, ErrNoSession):
		return CodeRefreshUnavailable
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status == 0 {
			return CodeNetworkUnreachable
		}
		return CodeServerError
	}

	return CodeUnknown
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
