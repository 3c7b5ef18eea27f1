package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	jobsdomain "github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.handleMessage(ctx, workerName, msg)
		}
	}
}

// handleMessage processes one trigger and settles its delivery
func (w *Worker) handleMessage(ctx context.Context, workerName string, msg *domain.JobMessage) {
	jobID := msg.Trigger.JobID

	err := w.processJob(ctx, msg)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := w.shouldRequeueJob(msg, err)
	w.logger.Error("Job dispatch failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := msg.Nack(requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeueJob requeues transient failures once; a second failure is left to the reaper
func (w *Worker) shouldRequeueJob(msg *domain.JobMessage, err error) bool {
	if errors.Is(err, jobsdomain.ErrNotFound) {
		return false
	}

	if errors.Is(err, domain.ErrInvalidMessage) || errors.Is(err, domain.ErrDispatchRejected) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return !msg.Redelivered
	}

	return false
}
