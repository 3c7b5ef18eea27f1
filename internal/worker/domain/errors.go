package domain

import "errors"

var (
	// ErrInvalidMessage is returned when a trigger body cannot be decoded
	ErrInvalidMessage = errors.New("invalid trigger message")

	// ErrDispatchRejected is returned when the AI service refuses a job for good
	ErrDispatchRejected = errors.New("ai service rejected job")
)

// RetryableError wraps transient errors that should trigger a requeue
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
