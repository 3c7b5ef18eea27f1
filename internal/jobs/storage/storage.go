package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const activeDocumentIndex = "processing_jobs_active_document_idx"

// JobFilter narrows ListJobs
type JobFilter struct {
	Status     domain.JobStatus
	DocumentID string
}

// Page is a 1-based offset page
type Page struct {
	Page    int
	PerPage int
}

func (p Page) offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Storage is the Postgres-backed job store
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a job and all its steps in one transaction
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing, `
		SELECT id FROM processing_jobs
		WHERE document_id = $1 AND status = ANY($2)
		LIMIT 1
	`, job.DocumentID, pq.Array(activeStatuses()))
	switch {
	case err == nil:
		return &domain.ActiveJobError{DocumentID: job.DocumentID, JobID: existing}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check active jobs: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processing_jobs (
			id, document_id, project_id, status, current_step, progress,
			total_steps, completed_steps, retry_count, max_retries, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
	`,
		job.ID, job.DocumentID, job.ProjectID, string(job.Status), toNullString(job.CurrentStep), job.Progress,
		job.TotalSteps, job.CompletedSteps, job.RetryCount, job.MaxRetries, job.Version,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isActiveDocumentViolation(err) {
			return &domain.ActiveJobError{DocumentID: job.DocumentID}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	for _, step := range job.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO processing_steps (
				id, job_id, step_key, step_name, step_order, status,
				details, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			step.ID, job.ID, step.Key, step.Name, step.Order, string(step.Status),
			detailsValue(step.Details), step.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create step %s: %w", step.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isActiveDocumentViolation(err) {
			return &domain.ActiveJobError{DocumentID: job.DocumentID}
		}
		return fmt.Errorf("failed to commit job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("document_id", job.DocumentID),
		slog.String("project_id", job.ProjectID),
		slog.Int("total_steps", job.TotalSteps),
	)

	return nil
}

// GetJob returns a job with its steps, scoped to a project
func (s *Storage) GetJob(ctx context.Context, projectID, jobID string) (*domain.Job, error) {
	return s.getJob(ctx, s.db, projectID, jobID, false)
}

// GetJobByID returns a job with its steps without project scoping
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.getJob(ctx, s.db, "", jobID, false)
}

func (s *Storage) getJob(ctx context.Context, q sqlx.QueryerContext, projectID, jobID string, forUpdate bool) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	args := []interface{}{jobID}
	if projectID != "" {
		query += ` AND project_id = $2`
		args = append(args, projectID)
	}
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row jobRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := row.toDomain()

	stepQuery := `SELECT ` + stepColumns + ` FROM processing_steps WHERE job_id = $1 ORDER BY step_order`
	if forUpdate {
		stepQuery += ` FOR UPDATE`
	}
	var steps []stepRow
	if err := sqlx.SelectContext(ctx, q, &steps, stepQuery, jobID); err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	job.Steps = make([]domain.Step, 0, len(steps))
	for _, r := range steps {
		job.Steps = append(job.Steps, r.toDomain())
	}

	return job, nil
}

// ListJobs returns one page of a project's jobs, newest first, plus the total match count
func (s *Storage) ListJobs(ctx context.Context, projectID string, filter JobFilter, page Page) ([]*domain.Job, int, error) {
	where := ` WHERE project_id = $1`
	args := []interface{}{projectID}
	argIdx := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.DocumentID != "" {
		where += fmt.Sprintf(" AND document_id = $%d", argIdx)
		args = append(args, filter.DocumentID)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM processing_jobs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM processing_jobs` + where +
		` ORDER BY created_at DESC, id DESC` +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, page.PerPage, page.offset())

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs, err := s.withSteps(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListActiveJobs returns queued, running and paused jobs of the given projects
func (s *Storage) ListActiveJobs(ctx context.Context, projectIDs []string) ([]*domain.Job, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + jobColumns + ` FROM processing_jobs
		WHERE project_id = ANY($1) AND status = ANY($2)
		ORDER BY created_at DESC, id DESC`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(projectIDs), pq.Array(activeStatuses())); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	return s.withSteps(ctx, rows)
}

func (s *Storage) withSteps(ctx context.Context, rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	if len(rows) == 0 {
		return jobs, nil
	}

	ids := make([]string, 0, len(rows))
	byID := make(map[string]*domain.Job, len(rows))
	for _, r := range rows {
		job := r.toDomain()
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
		byID[job.ID] = job
	}

	var steps []stepRow
	err := s.db.SelectContext(ctx, &steps,
		`SELECT `+stepColumns+` FROM processing_steps WHERE job_id = ANY($1) ORDER BY job_id, step_order`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}

	for _, r := range steps {
		if job, ok := byID[r.JobID]; ok {
			job.Steps = append(job.Steps, r.toDomain())
		}
	}

	return jobs, nil
}

// UpdateJob locks the job and its steps, applies fn and persists whatever fn changed.
// An empty projectID skips project scoping. If fn returns an error nothing is written.
func (s *Storage) UpdateJob(ctx context.Context, projectID, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := s.getJob(ctx, tx, projectID, jobID, true)
	if err != nil {
		return nil, err
	}

	before := job.Clone()
	if err := fn(job); err != nil {
		return nil, err
	}

	var updatedAt time.Time
	err = tx.GetContext(ctx, &updatedAt, `
		UPDATE processing_jobs
		SET status = $1,
			current_step = $2,
			progress = $3,
			completed_steps = $4,
			error_message = $5,
			error_step = $6,
			retry_count = $7,
			paused_at = $8,
			started_at = $9,
			completed_at = $10,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $11 AND version = $12
		RETURNING updated_at
	`,
		string(job.Status),
		toNullString(job.CurrentStep),
		job.Progress,
		job.CompletedSteps,
		toNullString(job.ErrorMessage),
		toNullString(job.ErrorStep),
		job.RetryCount,
		toNullTime(job.PausedAt),
		toNullTime(job.StartedAt),
		toNullTime(job.CompletedAt),
		job.ID,
		before.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStaleVersion
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	for i := range job.Steps {
		if i < len(before.Steps) && reflect.DeepEqual(before.Steps[i], job.Steps[i]) {
			continue
		}
		if err := updateStep(ctx, tx, &job.Steps[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}

	job.Version = before.Version + 1
	job.UpdatedAt = updatedAt
	return job, nil
}

func updateStep(ctx context.Context, tx *sqlx.Tx, step *domain.Step) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE processing_steps
		SET status = $1,
			progress = $2,
			items_total = $3,
			items_processed = $4,
			message = $5,
			details = $6,
			error_message = $7,
			started_at = $8,
			completed_at = $9
		WHERE id = $10
	`,
		string(step.Status),
		step.Progress,
		step.ItemsTotal,
		step.ItemsProcessed,
		toNullString(step.Message),
		detailsValue(step.Details),
		toNullString(step.ErrorMessage),
		toNullTime(step.StartedAt),
		toNullTime(step.CompletedAt),
		step.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step %s: %w", step.Key, err)
	}
	return nil
}

// FailStaleJobs fails running jobs whose last update is older than olderThan.
// Jobs that changed state between the scan and the update are skipped.
func (s *Storage) FailStaleJobs(ctx context.Context, olderThan time.Duration, now time.Time) ([]*domain.Job, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM processing_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, string(domain.JobStatusRunning), now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	message := fmt.Sprintf("no progress reported for %s", olderThan)
	failed := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.UpdateJob(ctx, "", id, func(j *domain.Job) error {
			return j.FailStale(message, now)
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrConflict) {
				continue
			}
			return failed, err
		}

		s.logger.Warn("Stale job failed",
			slog.String("job_id", job.ID),
			slog.String("project_id", job.ProjectID),
			slog.Duration("older_than", olderThan),
		)
		failed = append(failed, job)
	}

	return failed, nil
}

func activeStatuses() []string {
	out := make([]string, len(domain.ActiveJobStatuses))
	for i, st := range domain.ActiveJobStatuses {
		out[i] = string(st)
	}
	return out
}

func isActiveDocumentViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (pqErr.Constraint == "" || pqErr.Constraint == activeDocumentIndex)
}
