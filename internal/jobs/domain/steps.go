package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepProgressUpdate carries a worker's progress report for a running step.
// Nil fields are left untouched.
type StepProgressUpdate struct {
	Progress       *float64
	ItemsProcessed *int
	ItemsTotal     *int
	Message        *string
	Details        json.RawMessage
}

// Start moves a queued job to running. Starting a running job again is a no-op.
func (j *Job) Start(now time.Time) error {
	switch j.Status {
	case JobStatusQueued:
		j.MarkRunning(now)
		if j.CurrentStep == nil {
			j.recount()
		}
		return nil
	case JobStatusRunning:
		return nil
	}
	return jobTransitionError(j.Status, "start")
}

// StartStep moves a pending step to running once every earlier step is done.
func (j *Job) StartStep(key string, now time.Time) error {
	if err := j.requireStatus("start step", JobStatusRunning); err != nil {
		return err
	}
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	if step.Status != StepStatusPending {
		return stepTransitionError(step, "start")
	}
	for i := range j.Steps {
		prev := &j.Steps[i]
		if prev.Order < step.Order && !prev.Status.IsDone() {
			return fmt.Errorf("%w: step %s is %s and precedes %s",
				ErrInvalidTransition, prev.Key, prev.Status, step.Key)
		}
	}

	step.Status = StepStatusRunning
	step.StartedAt = timePtr(now)
	step.CompletedAt = nil
	step.ErrorMessage = nil
	j.CurrentStep = stringPtr(step.Key)
	j.UpdatedAt = now
	return nil
}

// UpdateStepProgress records progress for a running step. Step and job progress never move backwards.
func (j *Job) UpdateStepProgress(key string, update StepProgressUpdate, now time.Time) error {
	if err := j.requireStatus("report progress", JobStatusRunning, JobStatusPaused); err != nil {
		return err
	}
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	if step.Status != StepStatusRunning {
		return stepTransitionError(step, "report progress for")
	}

	total := step.ItemsTotal
	if update.ItemsTotal != nil {
		if *update.ItemsTotal < 0 {
			return fmt.Errorf("%w: items_total must not be negative", ErrValidation)
		}
		total = *update.ItemsTotal
	}
	processed := step.ItemsProcessed
	if update.ItemsProcessed != nil {
		if *update.ItemsProcessed < 0 {
			return fmt.Errorf("%w: items_processed must not be negative", ErrValidation)
		}
		processed = *update.ItemsProcessed
	}
	if total > 0 && processed > total {
		return fmt.Errorf("%w: items_processed %d exceeds items_total %d", ErrValidation, processed, total)
	}

	step.ItemsTotal = total
	step.ItemsProcessed = processed

	progress := step.Progress
	switch {
	case update.Progress != nil:
		progress = clamp01(*update.Progress)
	case update.ItemsProcessed != nil && total > 0:
		progress = clamp01(float64(processed) / float64(total))
	}
	step.Progress = max(step.Progress, progress)

	if update.Message != nil {
		step.Message = cloneString(update.Message)
	}
	if len(update.Details) > 0 {
		step.Details = append(json.RawMessage(nil), update.Details...)
	}

	j.advanceProgress(step.Progress)
	j.UpdatedAt = now
	return nil
}

// CompleteStep marks a running step completed. Completing the last open step completes the job.
func (j *Job) CompleteStep(key string, details json.RawMessage, now time.Time) error {
	if err := j.requireStatus("complete step", JobStatusRunning, JobStatusPaused); err != nil {
		return err
	}
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	if step.Status != StepStatusRunning {
		return stepTransitionError(step, "complete")
	}

	step.Status = StepStatusCompleted
	step.Progress = 1
	if step.ItemsTotal > 0 {
		step.ItemsProcessed = step.ItemsTotal
	}
	step.CompletedAt = timePtr(now)
	if len(details) > 0 {
		step.Details = append(json.RawMessage(nil), details...)
	}

	j.afterStepDone(now)
	return nil
}

// SkipStep marks a pending step as skipped; it counts as done for ordering and progress.
func (j *Job) SkipStep(key string, reason string, now time.Time) error {
	if err := j.requireStatus("skip step", JobStatusRunning, JobStatusPaused); err != nil {
		return err
	}
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	if step.Status != StepStatusPending {
		return stepTransitionError(step, "skip")
	}

	step.Status = StepStatusSkipped
	step.CompletedAt = timePtr(now)
	if reason != "" {
		step.Message = stringPtr(reason)
	}

	j.afterStepDone(now)
	return nil
}

// FailStep marks a step failed and fails the job with it.
func (j *Job) FailStep(key string, message string, now time.Time) error {
	if err := j.requireStatus("fail step", JobStatusRunning, JobStatusPaused); err != nil {
		return err
	}
	step, err := j.Step(key)
	if err != nil {
		return err
	}
	if step.Status != StepStatusPending && step.Status != StepStatusRunning {
		return stepTransitionError(step, "fail")
	}

	step.Status = StepStatusFailed
	step.ErrorMessage = stringPtr(message)
	step.CompletedAt = timePtr(now)

	j.markFailed(step.Key, message, now)
	return nil
}

// FailStale fails a running job that stopped reporting progress, along with its running step.
func (j *Job) FailStale(message string, now time.Time) error {
	if j.Status != JobStatusRunning {
		return jobTransitionError(j.Status, "expire")
	}

	stepKey := ""
	if active := j.ActiveStep(); active != nil {
		active.Status = StepStatusFailed
		active.ErrorMessage = stringPtr(message)
		active.CompletedAt = timePtr(now)
		stepKey = active.Key
	} else if j.CurrentStep != nil {
		stepKey = *j.CurrentStep
	}

	j.markFailed(stepKey, message, now)
	return nil
}

func (j *Job) markFailed(stepKey, message string, now time.Time) {
	j.Status = JobStatusFailed
	j.PausedAt = nil
	j.ErrorMessage = stringPtr(message)
	if stepKey != "" {
		j.ErrorStep = stringPtr(stepKey)
		j.CurrentStep = stringPtr(stepKey)
	}
	j.UpdatedAt = now
}

func (j *Job) afterStepDone(now time.Time) {
	done := 0
	var next *string
	for i := range j.Steps {
		if j.Steps[i].Status.IsDone() {
			done++
			continue
		}
		if next == nil {
			next = stringPtr(j.Steps[i].Key)
		}
	}
	j.CompletedSteps = done
	j.CurrentStep = next
	j.Progress = max(j.Progress, ratio(done, j.TotalSteps))

	if done == j.TotalSteps {
		j.Status = JobStatusCompleted
		j.Progress = 1
		j.PausedAt = nil
		j.CompletedAt = timePtr(now)
	}
	j.UpdatedAt = now
}

// advanceProgress credits the running step's fraction to the job.
func (j *Job) advanceProgress(stepProgress float64) {
	if j.TotalSteps <= 0 {
		return
	}
	p := clamp01((float64(j.CompletedSteps) + stepProgress) / float64(j.TotalSteps))
	j.Progress = max(j.Progress, p)
}

func (j *Job) requireStatus(requested string, allowed ...JobStatus) error {
	for _, s := range allowed {
		if j.Status == s {
			return nil
		}
	}
	return jobTransitionError(j.Status, requested)
}
