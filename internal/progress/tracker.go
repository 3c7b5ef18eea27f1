package progress

import (
	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

type stepSnapshot struct {
	status         domain.StepStatus
	progress       float64
	itemsProcessed int
	message        string
}

type jobSnapshot struct {
	status domain.JobStatus
	steps  map[string]stepSnapshot
}

// Tracker remembers the last observed state of a project's active jobs and turns
// the difference to a new observation into events. It is not safe for concurrent use.
type Tracker struct {
	jobs map[string]jobSnapshot
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]jobSnapshot)}
}

// Observe diffs the current active jobs against the previous observation.
// It returns the events plus the IDs of jobs that were active before and are not anymore.
func (t *Tracker) Observe(active []*domain.Job) ([]Event, []string) {
	var events []Event
	seen := make(map[string]struct{}, len(active))

	for _, job := range active {
		seen[job.ID] = struct{}{}
		prev, known := t.jobs[job.ID]

		events = append(events, newJobStatusChanged(job))
		if known && prev.status != job.Status {
			switch {
			case job.Status == domain.JobStatusPaused:
				events = append(events, JobPaused{Type: TypeJobPaused, JobID: job.ID, CurrentStep: job.CurrentStep})
			case prev.status == domain.JobStatusPaused && job.Status == domain.JobStatusRunning:
				events = append(events, JobResumed{Type: TypeJobResumed, JobID: job.ID})
			}
		}
		events = append(events, stepEvents(job, prev.steps)...)
		t.jobs[job.ID] = snapshot(job)
	}

	var gone []string
	for id := range t.jobs {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	return events, gone
}

// Finish emits the closing events for a job that left the active set and forgets it.
// A job that is active again is forgotten silently and will be picked up as new.
func (t *Tracker) Finish(job *domain.Job) []Event {
	prev := t.jobs[job.ID]
	delete(t.jobs, job.ID)

	var events []Event
	switch job.Status {
	case domain.JobStatusCompleted:
		events = append(events, stepEvents(job, prev.steps)...)
		events = append(events, newJobStatusChanged(job), newJobCompleted(job))
	case domain.JobStatusFailed:
		events = append(events, stepEvents(job, prev.steps)...)
		events = append(events, newJobStatusChanged(job), newJobFailed(job))
	case domain.JobStatusCancelled:
		events = append(events, newJobStatusChanged(job), JobCancelled{Type: TypeJobCancelled, JobID: job.ID})
	}
	return events
}

// Forget drops a job that no longer exists
func (t *Tracker) Forget(jobID string) {
	delete(t.jobs, jobID)
}

func stepEvents(job *domain.Job, prev map[string]stepSnapshot) []Event {
	var events []Event
	for i := range job.Steps {
		step := &job.Steps[i]
		before, known := prev[step.Key]
		if !known {
			before = stepSnapshot{status: domain.StepStatusPending}
			if prev == nil {
				// First sighting of the job: only a step in flight is news.
				if step.Status == domain.StepStatusRunning {
					events = append(events, newStepStarted(job, step))
					if step.Progress > 0 {
						events = append(events, newStepProgress(job, step))
					}
				}
				continue
			}
		}

		if before.status != step.Status {
			switch step.Status {
			case domain.StepStatusRunning:
				events = append(events, newStepStarted(job, step))
			case domain.StepStatusCompleted:
				if before.status == domain.StepStatusPending {
					events = append(events, newStepStarted(job, step))
				}
				events = append(events, newStepCompleted(job, step))
			case domain.StepStatusFailed:
				events = append(events, newStepFailed(job, step))
			}
			continue
		}

		if step.Status == domain.StepStatusRunning && progressChanged(before, step) {
			events = append(events, newStepProgress(job, step))
		}
	}
	return events
}

func progressChanged(before stepSnapshot, step *domain.Step) bool {
	msg := ""
	if step.Message != nil {
		msg = *step.Message
	}
	return before.progress != step.Progress ||
		before.itemsProcessed != step.ItemsProcessed ||
		before.message != msg
}

func snapshot(job *domain.Job) jobSnapshot {
	s := jobSnapshot{status: job.Status, steps: make(map[string]stepSnapshot, len(job.Steps))}
	for _, step := range job.Steps {
		msg := ""
		if step.Message != nil {
			msg = *step.Message
		}
		s.steps[step.Key] = stepSnapshot{
			status:         step.Status,
			progress:       step.Progress,
			itemsProcessed: step.ItemsProcessed,
			message:        msg,
		}
	}
	return s
}
