package progress

import (
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

// EventType names an event on the wire. It is also the SSE event name.
type EventType string

const (
	TypeJobStatusChanged EventType = "job_status_changed"
	TypeStepStarted      EventType = "step_started"
	TypeStepProgress     EventType = "step_progress"
	TypeStepCompleted    EventType = "step_completed"
	TypeStepFailed       EventType = "step_failed"
	TypeJobCompleted     EventType = "job_completed"
	TypeJobFailed        EventType = "job_failed"
	TypeJobPaused        EventType = "job_paused"
	TypeJobResumed       EventType = "job_resumed"
	TypeJobCancelled     EventType = "job_cancelled"
	TypeHeartbeat        EventType = "heartbeat"
)

// Event is one progress notification
type Event interface {
	EventType() EventType
}

type JobStatusChanged struct {
	Type           EventType        `json:"type"`
	JobID          string           `json:"job_id"`
	Status         domain.JobStatus `json:"status"`
	Progress       float64          `json:"progress"`
	CurrentStep    *string          `json:"current_step"`
	CompletedSteps int              `json:"completed_steps"`
	TotalSteps     int              `json:"total_steps"`
	CanRetry       bool             `json:"can_retry"`
}

type StepStarted struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	StepKey   string    `json:"step_key"`
	StepName  string    `json:"step_name"`
	StepOrder int       `json:"step_order"`
}

type StepProgress struct {
	Type           EventType `json:"type"`
	JobID          string    `json:"job_id"`
	StepKey        string    `json:"step_key"`
	Progress       float64   `json:"progress"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsTotal     int       `json:"items_total"`
	Message        *string   `json:"message"`
}

type StepCompleted struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	StepKey    string    `json:"step_key"`
	DurationMs *int64    `json:"duration_ms"`
}

type StepFailed struct {
	Type     EventType `json:"type"`
	JobID    string    `json:"job_id"`
	StepKey  string    `json:"step_key"`
	Error    string    `json:"error"`
	CanRetry bool      `json:"can_retry"`
}

type JobCompleted struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	DurationMs *int64    `json:"duration_ms"`
}

type JobFailed struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Error      string    `json:"error"`
	FailedStep *string   `json:"failed_step"`
	CanRetry   bool      `json:"can_retry"`
}

type JobPaused struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"job_id"`
	CurrentStep *string   `json:"current_step"`
}

type JobResumed struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`
}

type JobCancelled struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`
}

type Heartbeat struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e JobStatusChanged) EventType() EventType { return TypeJobStatusChanged }
func (e StepStarted) EventType() EventType      { return TypeStepStarted }
func (e StepProgress) EventType() EventType     { return TypeStepProgress }
func (e StepCompleted) EventType() EventType    { return TypeStepCompleted }
func (e StepFailed) EventType() EventType       { return TypeStepFailed }
func (e JobCompleted) EventType() EventType     { return TypeJobCompleted }
func (e JobFailed) EventType() EventType        { return TypeJobFailed }
func (e JobPaused) EventType() EventType        { return TypeJobPaused }
func (e JobResumed) EventType() EventType       { return TypeJobResumed }
func (e JobCancelled) EventType() EventType     { return TypeJobCancelled }
func (e Heartbeat) EventType() EventType        { return TypeHeartbeat }

func newJobStatusChanged(j *domain.Job) JobStatusChanged {
	return JobStatusChanged{
		Type:           TypeJobStatusChanged,
		JobID:          j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		CurrentStep:    j.CurrentStep,
		CompletedSteps: j.CompletedSteps,
		TotalSteps:     j.TotalSteps,
		CanRetry:       j.CanRetry(),
	}
}

func newStepStarted(j *domain.Job, s *domain.Step) StepStarted {
	return StepStarted{Type: TypeStepStarted, JobID: j.ID, StepKey: s.Key, StepName: s.Name, StepOrder: s.Order}
}

func newStepProgress(j *domain.Job, s *domain.Step) StepProgress {
	return StepProgress{
		Type:           TypeStepProgress,
		JobID:          j.ID,
		StepKey:        s.Key,
		Progress:       s.Progress,
		ItemsProcessed: s.ItemsProcessed,
		ItemsTotal:     s.ItemsTotal,
		Message:        s.Message,
	}
}

func newStepCompleted(j *domain.Job, s *domain.Step) StepCompleted {
	return StepCompleted{Type: TypeStepCompleted, JobID: j.ID, StepKey: s.Key, DurationMs: durationMs(s.StartedAt, s.CompletedAt)}
}

func newStepFailed(j *domain.Job, s *domain.Step) StepFailed {
	msg := ""
	if s.ErrorMessage != nil {
		msg = *s.ErrorMessage
	}
	return StepFailed{Type: TypeStepFailed, JobID: j.ID, StepKey: s.Key, Error: msg, CanRetry: j.CanRetry()}
}

func newJobCompleted(j *domain.Job) JobCompleted {
	return JobCompleted{Type: TypeJobCompleted, JobID: j.ID, DurationMs: durationMs(j.StartedAt, j.CompletedAt)}
}

func newJobFailed(j *domain.Job) JobFailed {
	msg := ""
	if j.ErrorMessage != nil {
		msg = *j.ErrorMessage
	}
	return JobFailed{Type: TypeJobFailed, JobID: j.ID, Error: msg, FailedStep: j.ErrorStep, CanRetry: j.CanRetry()}
}

func newHeartbeat(now time.Time) Heartbeat {
	return Heartbeat{Type: TypeHeartbeat, Timestamp: now}
}

func durationMs(start, end *time.Time) *int64 {
	if start == nil || end == nil {
		return nil
	}
	ms := end.Sub(*start).Milliseconds()
	return &ms
}
