package llms

import (
	"errors"
	"fmt"
)

// AuthError marks a non-retriable authentication or authorization failure.
// The dispatcher surfaces these as a configuration problem instead of
// retrying.
type AuthError struct {
	Provider string
	Status   int
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed (status %d): %s", e.Provider, e.Status, e.Message)
}

// TransientError marks a retriable failure: rate limits, upstream errors,
// network hiccups.
type TransientError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transient failure (status %d): %s: %v", e.Provider, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s transient failure (status %d): %s", e.Provider, e.Status, e.Message)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// classifyStatus converts an HTTP status into the matching error kind.
func classifyStatus(provider string, status int, message string) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Provider: provider, Status: status, Message: message}
	case status == 408 || status == 429 || status >= 500:
		return &TransientError{Provider: provider, Status: status, Message: message}
	default:
		return fmt.Errorf("%s request failed (status %d): %s", provider, status, message)
	}
}
