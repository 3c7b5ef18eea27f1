package domain

import (
	"fmt"
	"strings"
	"time"
)

// Action is an operator request against a job. The set of implementations is closed.
type Action interface {
	Name() string
	isAction()
}

type Pause struct{}

type Resume struct{}

type Cancel struct{}

// RetryStep resets a single step and restarts the job from it
type RetryStep struct {
	StepKey string
}

// RetryJob resets every step that has not completed
type RetryJob struct{}

func (Pause) Name() string     { return "pause" }
func (Resume) Name() string    { return "resume" }
func (Cancel) Name() string    { return "cancel" }
func (RetryStep) Name() string { return "retry_step" }
func (RetryJob) Name() string  { return "retry_job" }

func (Pause) isAction()     {}
func (Resume) isAction()    {}
func (Cancel) isAction()    {}
func (RetryStep) isAction() {}
func (RetryJob) isAction()  {}

// ParseAction builds an Action from its wire name. stepKey is only used by retry_step.
func ParseAction(name, stepKey string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pause":
		return Pause{}, nil
	case "resume":
		return Resume{}, nil
	case "cancel":
		return Cancel{}, nil
	case "retry_job", "retryjob":
		return RetryJob{}, nil
	case "retry_step", "retrystep":
		if strings.TrimSpace(stepKey) == "" {
			return nil, fmt.Errorf("%w: retry_step requires step_key", ErrValidation)
		}
		return RetryStep{StepKey: stepKey}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, name)
}

// checkRetryTarget rejects a retry that would leave a failed step ahead of the restarted one,
// since the worker could never get past it.
func checkRetryTarget(job *Job, key string) error {
	if _, err := job.Step(key); err != nil {
		return err
	}
	for i := range job.Steps {
		step := &job.Steps[i]
		if step.Key == key {
			return nil
		}
		if step.Status == StepStatusFailed {
			return stepTransitionError(step, "retry_step "+key)
		}
	}
	return nil
}

// CheckTransition reports whether action may be applied to job in its current state.
func CheckTransition(job *Job, action Action) error {
	switch a := action.(type) {
	case Pause:
		if job.Status != JobStatusRunning {
			return jobTransitionError(job.Status, a.Name())
		}
	case Resume:
		if job.Status != JobStatusPaused {
			return jobTransitionError(job.Status, a.Name())
		}
	case Cancel:
		if job.Status == JobStatusCompleted || job.Status == JobStatusCancelled {
			return jobTransitionError(job.Status, a.Name())
		}
	case RetryStep:
		if job.Status != JobStatusFailed && job.Status != JobStatusPaused {
			return jobTransitionError(job.Status, a.Name())
		}
		return checkRetryTarget(job, a.StepKey)
	case RetryJob:
		if job.Status != JobStatusFailed {
			return jobTransitionError(job.Status, a.Name())
		}
		if job.RetryCount >= job.MaxRetries {
			return fmt.Errorf("%w: %d of %d retries used", ErrRetryExhausted, job.RetryCount, job.MaxRetries)
		}
	default:
		return fmt.Errorf("%w: unsupported action %T", ErrValidation, action)
	}
	return nil
}

// Apply checks the guard and then performs the action's effect. On error the job is unchanged.
func (j *Job) Apply(action Action, now time.Time) error {
	if err := CheckTransition(j, action); err != nil {
		return err
	}

	switch a := action.(type) {
	case Pause:
		j.MarkPaused(now)
	case Resume:
		j.MarkResumed(now)
	case Cancel:
		j.MarkCancelled(now)
	case RetryStep:
		if err := j.ResetStep(a.StepKey); err != nil {
			return err
		}
		j.IncrementRetry()
		j.MarkRunning(now)
	case RetryJob:
		j.ResetIncompleteSteps()
		j.IncrementRetry()
		j.MarkRunning(now)
	}
	return nil
}
