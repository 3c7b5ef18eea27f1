package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a processing job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ActiveJobStatuses are the statuses that hold the one-active-job-per-document slot
var ActiveJobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusPaused}

// IsActive reports whether the job occupies its document's active slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusPaused
}

// IsTerminal reports whether no further transitions are accepted
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// ParseJobStatus validates a status string coming from a query parameter or row
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusQueued, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrValidation, s)
}

// StepStatus is the lifecycle state of a single pipeline step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsDone reports whether later steps may start
func (s StepStatus) IsDone() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// DefaultMaxRetries is used when configuration does not set processing.max_retries
const DefaultMaxRetries = 3

// Job is one end-to-end processing run for a single document
type Job struct {
	ID             string
	DocumentID     string
	ProjectID      string
	Status         JobStatus
	CurrentStep    *string
	Progress       float64
	TotalSteps     int
	CompletedSteps int
	ErrorMessage   *string
	ErrorStep      *string
	RetryCount     int
	MaxRetries     int
	Version        int64
	PausedAt       *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Steps          []Step
}

// Step is one ordered stage within a job
type Step struct {
	ID             string
	JobID          string
	Key            string
	Name           string
	Order          int
	Status         StepStatus
	Progress       float64
	ItemsTotal     int
	ItemsProcessed int
	Message        *string
	Details        json.RawMessage
	ErrorMessage   *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// NewJob materializes a queued job with one pending step per pipeline entry.
func NewJob(documentID, projectID string, pipeline Pipeline, maxRetries int, now time.Time) *Job {
	if maxRetries < 0 {
		maxRetries = 0
	}

	job := &Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ProjectID:  projectID,
		Status:     JobStatusQueued,
		TotalSteps: len(pipeline),
		MaxRetries: maxRetries,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		Steps:      make([]Step, 0, len(pipeline)),
	}

	for _, def := range pipeline {
		job.Steps = append(job.Steps, Step{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Key:       def.Key,
			Name:      def.Name,
			Order:     def.Order,
			Status:    StepStatusPending,
			Details:   json.RawMessage(`{}`),
			CreatedAt: now,
		})
	}

	return job
}

// CanRetry reports whether RetryJob would be accepted
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// Step returns the step with the given key
func (j *Job) Step(key string) (*Step, error) {
	for i := range j.Steps {
		if j.Steps[i].Key == key {
			return &j.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, key)
}

// ActiveStep returns the running step, or nil
func (j *Job) ActiveStep() *Step {
	for i := range j.Steps {
		if j.Steps[i].Status == StepStatusRunning {
			return &j.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy so a mutation can be discarded on error
func (j *Job) Clone() *Job {
	c := *j
	c.CurrentStep = cloneString(j.CurrentStep)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.ErrorStep = cloneString(j.ErrorStep)
	c.PausedAt = cloneTime(j.PausedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)

	c.Steps = make([]Step, len(j.Steps))
	for i, s := range j.Steps {
		s.Message = cloneString(s.Message)
		s.ErrorMessage = cloneString(s.ErrorMessage)
		s.StartedAt = cloneTime(s.StartedAt)
		s.CompletedAt = cloneTime(s.CompletedAt)
		if s.Details != nil {
			s.Details = append(json.RawMessage(nil), s.Details...)
		}
		c.Steps[i] = s
	}
	return &c
}

// MarkRunning moves the job to running. started_at is only set the first time.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.PausedAt = nil
	j.ErrorMessage = nil
	j.ErrorStep = nil
	if j.StartedAt == nil {
		j.StartedAt = timePtr(now)
	}
	j.UpdatedAt = now
}

// MarkPaused moves the job to paused
func (j *Job) MarkPaused(now time.Time) {
	j.Status = JobStatusPaused
	j.PausedAt = timePtr(now)
	j.UpdatedAt = now
}

// MarkResumed moves a paused job back to running
func (j *Job) MarkResumed(now time.Time) {
	j.Status = JobStatusRunning
	j.PausedAt = nil
	j.UpdatedAt = now
}

// MarkCancelled moves the job to the terminal cancelled state
func (j *Job) MarkCancelled(now time.Time) {
	j.Status = JobStatusCancelled
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
}

// ResetStep puts one step back to pending and recomputes the job counters
func (j *Job) ResetStep(key string) error {
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	step.reset()
	j.recount()
	return nil
}

// ResetIncompleteSteps puts every step that is not completed back to pending
func (j *Job) ResetIncompleteSteps() {
	for i := range j.Steps {
		if j.Steps[i].Status != StepStatusCompleted {
			j.Steps[i].reset()
		}
	}
	j.recount()
}

// IncrementRetry counts one more retry attempt
func (j *Job) IncrementRetry() {
	j.RetryCount++
}

func (s *Step) reset() {
	s.Status = StepStatusPending
	s.Progress = 0
	s.ItemsProcessed = 0
	s.Message = nil
	s.ErrorMessage = nil
	s.StartedAt = nil
	s.CompletedAt = nil
}

// recount derives completed_steps, progress and current_step from the steps.
// Only used after resets, where progress is allowed to move backwards.
func (j *Job) recount() {
	done := 0
	j.CurrentStep = nil
	for i := range j.Steps {
		s := &j.Steps[i]
		if s.Status.IsDone() {
			done++
			continue
		}
		if j.CurrentStep == nil {
			j.CurrentStep = stringPtr(s.Key)
		}
	}
	j.CompletedSteps = done
	j.Progress = ratio(done, j.TotalSteps)
}

func ratio(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp01(float64(done) / float64(total))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func stringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
