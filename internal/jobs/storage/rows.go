package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

const jobColumns = `id, document_id, project_id, status, current_step, progress,
	total_steps, completed_steps, error_message, error_step, retry_count, max_retries,
	version, paused_at, started_at, completed_at, created_at, updated_at`

const stepColumns = `id, job_id, step_key, step_name, step_order, status, progress,
	items_total, items_processed, message, details, error_message,
	started_at, completed_at, created_at`

type jobRow struct {
	ID             string         `db:"id"`
	DocumentID     string         `db:"document_id"`
	ProjectID      string         `db:"project_id"`
	Status         string         `db:"status"`
	CurrentStep    sql.NullString `db:"current_step"`
	Progress       float64        `db:"progress"`
	TotalSteps     int            `db:"total_steps"`
	CompletedSteps int            `db:"completed_steps"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ErrorStep      sql.NullString `db:"error_step"`
	RetryCount     int            `db:"retry_count"`
	MaxRetries     int            `db:"max_retries"`
	Version        int64          `db:"version"`
	PausedAt       sql.NullTime   `db:"paused_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type stepRow struct {
	ID             string         `db:"id"`
	JobID          string         `db:"job_id"`
	StepKey        string         `db:"step_key"`
	StepName       string         `db:"step_name"`
	StepOrder      int            `db:"step_order"`
	Status         string         `db:"status"`
	Progress       float64        `db:"progress"`
	ItemsTotal     int            `db:"items_total"`
	ItemsProcessed int            `db:"items_processed"`
	Message        sql.NullString `db:"message"`
	Details        []byte         `db:"details"`
	ErrorMessage   sql.NullString `db:"error_message"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r jobRow) toDomain() *domain.Job {
	return &domain.Job{
		ID:             r.ID,
		DocumentID:     r.DocumentID,
		ProjectID:      r.ProjectID,
		Status:         domain.JobStatus(r.Status),
		CurrentStep:    fromNullString(r.CurrentStep),
		Progress:       r.Progress,
		TotalSteps:     r.TotalSteps,
		CompletedSteps: r.CompletedSteps,
		ErrorMessage:   fromNullString(r.ErrorMessage),
		ErrorStep:      fromNullString(r.ErrorStep),
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		Version:        r.Version,
		PausedAt:       fromNullTime(r.PausedAt),
		StartedAt:      fromNullTime(r.StartedAt),
		CompletedAt:    fromNullTime(r.CompletedAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (r stepRow) toDomain() domain.Step {
	details := json.RawMessage(r.Details)
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	return domain.Step{
		ID:             r.ID,
		JobID:          r.JobID,
		Key:            r.StepKey,
		Name:           r.StepName,
		Order:          r.StepOrder,
		Status:         domain.StepStatus(r.Status),
		Progress:       r.Progress,
		ItemsTotal:     r.ItemsTotal,
		ItemsProcessed: r.ItemsProcessed,
		Message:        fromNullString(r.Message),
		Details:        details,
		ErrorMessage:   fromNullString(r.ErrorMessage),
		StartedAt:      fromNullTime(r.StartedAt),
		CompletedAt:    fromNullTime(r.CompletedAt),
		CreatedAt:      r.CreatedAt,
	}
}

func detailsValue(d json.RawMessage) []byte {
	if len(d) == 0 {
		return []byte(`{}`)
	}
	return d
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
