package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "does not exist or is out of scope" error
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with existing state
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when an action's precondition does not hold
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRetryExhausted is returned by RetryJob once retry_count reaches max_retries
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrValidation is returned for malformed input
	ErrValidation = errors.New("validation failed")
)

var (
	ErrJobNotFound      = fmt.Errorf("job %w", ErrNotFound)
	ErrStepNotFound     = fmt.Errorf("step %w", ErrNotFound)
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	ErrProjectNotFound  = fmt.Errorf("project %w", ErrNotFound)

	// ErrStaleVersion is returned when the job row changed between load and write
	ErrStaleVersion = fmt.Errorf("%w: job was modified concurrently", ErrConflict)
)

// TransitionError names the current state and the requested action
type TransitionError struct {
	Subject   string
	Current   string
	Requested string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Requested, e.Subject, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func jobTransitionError(current JobStatus, requested string) error {
	return &TransitionError{Subject: "job", Current: string(current), Requested: requested}
}

func stepTransitionError(step *Step, requested string) error {
	return &TransitionError{Subject: "step " + step.Key, Current: string(step.Status), Requested: requested}
}

// ActiveJobError is returned when a document already has a queued, running or paused job
type ActiveJobError struct {
	DocumentID string
	JobID      string
}

func (e *ActiveJobError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("document %s already has an active processing job", e.DocumentID)
	}
	return fmt.Sprintf("document %s already has an active processing job: %s", e.DocumentID, e.JobID)
}

func (e *ActiveJobError) Unwrap() error {
	return ErrConflict
}
