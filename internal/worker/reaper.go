package worker

import (
	"context"
	"log/slog"
	"time"
)

// runReaper fails running jobs whose last update is older than staleJobAfter
func (w *Worker) runReaper(ctx context.Context) {
	defer w.wg.Done()

	interval := w.reaperInterval
	if interval <= 0 {
		interval = time.Minute
	}

	w.logger.Info("Stale job reaper started",
		slog.Duration("interval", interval),
		slog.Duration("stale_job_after", w.staleJobAfter),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reapOnce(ctx)
		}
	}
}

func (w *Worker) reapOnce(ctx context.Context) int {
	failed, err := w.reaper.FailStaleJobs(ctx, w.staleJobAfter, w.now())
	if err != nil {
		w.logger.Error("Stale job sweep failed",
			slog.Int("failed_before_error", len(failed)),
			slog.Any("error", err),
		)
	}
	if len(failed) > 0 {
		w.logger.Warn("Stale jobs failed",
			slog.Int("count", len(failed)),
		)
	}
	return len(failed)
}
