package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/buildbid/docproc-service/internal/aiservice"
	jobsdomain "github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/worker/domain"
)

// processJob checks the job is still runnable and hands it to the AI service.
// Jobs that are paused, failed or finished are acknowledged without dispatch.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	trig := msg.Trigger

	w.logger.Info("Processing trigger",
		slog.String("job_id", trig.JobID),
		slog.String("reason", string(trig.Reason)),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.jobs.GetJobByID(ctx, trig.JobID)
	if err != nil {
		if errors.Is(err, jobsdomain.ErrNotFound) {
			return fmt.Errorf("job %s: %w", trig.JobID, err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if !runnable(job.Status) {
		w.logger.Info("Job not runnable, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	resp, err := w.dispatcher.SubmitIngest(jobCtx, aiservice.IngestRequest{
		JobID:      job.ID,
		ProjectID:  job.ProjectID,
		DocumentID: job.DocumentID,
		Reason:     string(trig.Reason),
		StepKey:    trig.StepKey,
	})
	if err != nil {
		if aiservice.IsTemporary(err) {
			return domain.NewRetryableError(fmt.Errorf("failed to submit job: %w", err))
		}
		return fmt.Errorf("%w: %v", domain.ErrDispatchRejected, err)
	}

	w.logger.Info("Job handed to AI service",
		slog.String("job_id", job.ID),
		slog.String("ai_status", resp.Status),
	)
	return nil
}

func runnable(status jobsdomain.JobStatus) bool {
	return status == jobsdomain.JobStatusQueued || status == jobsdomain.JobStatusRunning
}
