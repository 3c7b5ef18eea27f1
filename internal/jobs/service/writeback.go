package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

// Write-back operations are called by the external worker. They are not project scoped.

// StartJob moves a queued job to running
func (s *Service) StartJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "start", "", func(j *domain.Job) error {
		return j.Start(s.now())
	})
}

// StartStep marks a pending step running once every earlier step is done
func (s *Service) StartStep(ctx context.Context, jobID, stepKey string) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "start_step", stepKey, func(j *domain.Job) error {
		return j.StartStep(stepKey, s.now())
	})
}

// ReportProgress records progress on the running step
func (s *Service) ReportProgress(ctx context.Context, jobID, stepKey string, update domain.StepProgressUpdate) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "", stepKey, func(j *domain.Job) error {
		return j.UpdateStepProgress(stepKey, update, s.now())
	})
}

// CompleteStep marks the running step completed; the last step completes the job
func (s *Service) CompleteStep(ctx context.Context, jobID, stepKey string, details json.RawMessage) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "complete_step", stepKey, func(j *domain.Job) error {
		return j.CompleteStep(stepKey, details, s.now())
	})
}

// SkipStep marks a pending step skipped
func (s *Service) SkipStep(ctx context.Context, jobID, stepKey, reason string) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "skip_step", stepKey, func(j *domain.Job) error {
		return j.SkipStep(stepKey, reason, s.now())
	})
}

// FailStep marks a step failed and fails the job with it
func (s *Service) FailStep(ctx context.Context, jobID, stepKey, message string) (*domain.Job, error) {
	return s.workerUpdate(ctx, jobID, "fail_step", stepKey, func(j *domain.Job) error {
		return j.FailStep(stepKey, message, s.now())
	})
}

// workerUpdate logs state changes at info; progress reports pass an empty op and log at debug.
func (s *Service) workerUpdate(ctx context.Context, jobID, op, stepKey string, fn func(*domain.Job) error) (*domain.Job, error) {
	job, err := s.store.UpdateJob(ctx, "", jobID, fn)
	if err != nil {
		return nil, err
	}

	attrs := []any{
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
		slog.Float64("progress", job.Progress),
	}
	if stepKey != "" {
		attrs = append(attrs, slog.String("step_key", stepKey))
	}

	if op == "" {
		s.logger.Debug("Step progress recorded", attrs...)
	} else {
		s.logger.Info("Worker update applied", append(attrs, slog.String("op", op))...)
	}

	return job, nil
}
