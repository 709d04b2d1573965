package auth

import (
	"errors"
	"fmt"
)

// Error codes carried by AuthError.
const (
	CodeMissingAPIKey = "MISSING_API_KEY"
	CodeInvalidAPIKey = "INVALID_API_KEY"
)

// Sentinel errors for authentication operations.
var (
	// ErrMissingAPIKey indicates that no API key was presented.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey indicates that the presented API key is not valid.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrKeyTooShort indicates that a key does not meet the minimum length.
	ErrKeyTooShort = errors.New("API key is too short")
)

// AuthError is the typed error returned by Authenticate. Callers match
// it with errors.As, or match the underlying sentinel with errors.Is.
type AuthError struct {
	Code    string
	Message string
	cause   error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %s", e.Code, e.Message)
}

// Unwrap returns the underlying sentinel error.
func (e *AuthError) Unwrap() error {
	return e.cause
}

// newMissingKeyError builds the error for an absent or empty credential.
func newMissingKeyError() *AuthError {
	return &AuthError{
		Code:    CodeMissingAPIKey,
		Message: "no API key provided",
		cause:   ErrMissingAPIKey,
	}
}

// newInvalidKeyError builds the error for a credential that matches no
// configured key.
func newInvalidKeyError() *AuthError {
	return &AuthError{
		Code:    CodeInvalidAPIKey,
		Message: "API key is not valid",
		cause:   ErrInvalidAPIKey,
	}
}

// IsAuthError reports whether err is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// AsAuthError extracts the typed authentication error from err.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
