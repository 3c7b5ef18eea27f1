package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

type ProcessDocumentRequest struct {
	AutoStart *bool `json:"auto_start"`
}

// ShouldAutoStart defaults to true when auto_start is omitted
func (r ProcessDocumentRequest) ShouldAutoStart() bool {
	return r.AutoStart == nil || *r.AutoStart
}

type ListJobsRequest struct {
	Status     string `form:"status"`
	DocumentID string `form:"document_id"`
	Page       int    `form:"page"`
	PerPage    int    `form:"per_page"`
}

// ControlRequest accepts {"action":"pause"}, {"action":"retry_step","step_key":"..."}
// and the tagged form {"action":{"retry_step":{"step_key":"..."}}}.
type ControlRequest struct {
	Action  string `json:"-"`
	StepKey string `json:"-"`
}

func (r *ControlRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Action  json.RawMessage `json:"action"`
		StepKey string          `json:"step_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	action := bytes.TrimSpace(raw.Action)
	if len(action) == 0 || bytes.Equal(action, []byte("null")) {
		return errors.New("action is required")
	}

	if action[0] == '"' {
		if err := json.Unmarshal(action, &r.Action); err != nil {
			return err
		}
		r.StepKey = raw.StepKey
		return nil
	}

	var tagged map[string]struct {
		StepKey string `json:"step_key"`
	}
	if err := json.Unmarshal(action, &tagged); err != nil {
		return fmt.Errorf("action must be a string or an object: %w", err)
	}
	if len(tagged) != 1 {
		return errors.New("action object must have exactly one key")
	}
	for name, payload := range tagged {
		r.Action = name
		r.StepKey = payload.StepKey
	}
	return nil
}

// ToAction converts the request into a domain action
func (r ControlRequest) ToAction() (domain.Action, error) {
	return domain.ParseAction(r.Action, r.StepKey)
}

type StepProgressRequest struct {
	Progress       *float64        `json:"progress"`
	ItemsProcessed *int            `json:"items_processed"`
	ItemsTotal     *int            `json:"items_total"`
	Message        *string         `json:"message"`
	Details        json.RawMessage `json:"details"`
}

func (r StepProgressRequest) ToUpdate() domain.StepProgressUpdate {
	return domain.StepProgressUpdate{
		Progress:       r.Progress,
		ItemsProcessed: r.ItemsProcessed,
		ItemsTotal:     r.ItemsTotal,
		Message:        r.Message,
		Details:        r.Details,
	}
}

type CompleteStepRequest struct {
	Details json.RawMessage `json:"details"`
}

type SkipStepRequest struct {
	Reason string `json:"reason"`
}

type FailStepRequest struct {
	Error string `json:"error" binding:"required"`
}

type DataResponse struct {
	Data interface{} `json:"data"`
}

type ListJobsResponse struct {
	Data       []JobDTO      `json:"data"`
	Pagination PaginationDTO `json:"pagination"`
}

type PaginationDTO struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type JobDTO struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	ProjectID      string     `json:"project_id"`
	Status         string     `json:"status"`
	CurrentStep    *string    `json:"current_step"`
	Progress       float64    `json:"progress"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	ErrorMessage   *string    `json:"error_message"`
	ErrorStep      *string    `json:"error_step"`
	CanRetry       bool       `json:"can_retry"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	Steps          []StepDTO  `json:"steps"`
	PausedAt       *time.Time `json:"paused_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type StepDTO struct {
	ID             string          `json:"id"`
	StepName       string          `json:"step_name"`
	StepKey        string          `json:"step_key"`
	StepOrder      int             `json:"step_order"`
	Status         string          `json:"status"`
	Progress       float64         `json:"progress"`
	Message        *string         `json:"message"`
	Details        json.RawMessage `json:"details"`
	ItemsTotal     int             `json:"items_total"`
	ItemsProcessed int             `json:"items_processed"`
	ErrorMessage   *string         `json:"error_message"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

func NewJobDTO(j *domain.Job) JobDTO {
	steps := make([]StepDTO, len(j.Steps))
	for i, s := range j.Steps {
		details := s.Details
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		steps[i] = StepDTO{
			ID:             s.ID,
			StepName:       s.Name,
			StepKey:        s.Key,
			StepOrder:      s.Order,
			Status:         string(s.Status),
			Progress:       s.Progress,
			Message:        s.Message,
			Details:        details,
			ItemsTotal:     s.ItemsTotal,
			ItemsProcessed: s.ItemsProcessed,
			ErrorMessage:   s.ErrorMessage,
			StartedAt:      s.StartedAt,
			CompletedAt:    s.CompletedAt,
		}
	}

	return JobDTO{
		ID:             j.ID,
		DocumentID:     j.DocumentID,
		ProjectID:      j.ProjectID,
		Status:         string(j.Status),
		CurrentStep:    j.CurrentStep,
		Progress:       j.Progress,
		TotalSteps:     j.TotalSteps,
		CompletedSteps: j.CompletedSteps,
		ErrorMessage:   j.ErrorMessage,
		ErrorStep:      j.ErrorStep,
		CanRetry:       j.CanRetry(),
		RetryCount:     j.RetryCount,
		MaxRetries:     j.MaxRetries,
		Steps:          steps,
		PausedAt:       j.PausedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func NewJobDTOs(jobs []*domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = NewJobDTO(j)
	}
	return out
}
