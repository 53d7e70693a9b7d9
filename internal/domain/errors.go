package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned when a required parameter (exchange, queue,
	// routing key, identifier) is missing. Raised before any broker call.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration is returned when a required setting is missing or unknown
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned when a lookup matches nothing
	ErrNotFound = errors.New("not found")

	// ErrMaxRetriesExceeded is returned when a job has used its retry budget
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a delayed retry
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err asks for a retry
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// RequireName returns a validation error when value is blank
func RequireName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s must be a non-empty string", ErrValidation, field)
	}
	return nil
}

// Configurationf builds a configuration error
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
