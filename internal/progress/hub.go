package progress

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

const (
	DefaultPollInterval     = time.Second
	DefaultSubscriberBuffer = 64
)

// JobSource is the read-only view of the job store the hub polls
type JobSource interface {
	ListActiveJobs(ctx context.Context, projectIDs []string) ([]*domain.Job, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// Config holds hub settings
type Config struct {
	Source           JobSource
	PollInterval     time.Duration
	SubscriberBuffer int
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Subscription receives the events of one project until it is unsubscribed
type Subscription struct {
	projectID string
	events    chan Event
	dropped   int
}

// Events is closed when the subscription ends
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) ProjectID() string {
	return s.projectID
}

// Hub polls the job store on a single ticker and fans events out to per-project subscribers.
// Sends never block: a subscriber with a full buffer misses the event.
type Hub struct {
	source   JobSource
	interval time.Duration
	buffer   int
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	projects map[string]map[*Subscription]struct{}

	// owned by the polling goroutine
	trackers map[string]*Tracker
}

func NewHub(cfg Config) *Hub {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Hub{
		source:   cfg.Source,
		interval: interval,
		buffer:   buffer,
		logger:   cfg.Logger,
		now:      clock,
		projects: make(map[string]map[*Subscription]struct{}),
		trackers: make(map[string]*Tracker),
	}
}

// Subscribe registers a listener for a project's events
func (h *Hub) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		projectID: projectID,
		events:    make(chan Event, h.buffer),
	}

	h.mu.Lock()
	subs, ok := h.projects[projectID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.projects[projectID] = subs
	}
	subs[sub] = struct{}{}
	count := len(subs)
	h.mu.Unlock()

	h.logger.Info("Progress subscriber added",
		slog.String("project_id", projectID),
		slog.Int("project_subscribers", count),
	)
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.projects[sub.projectID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.events)
	if len(subs) == 0 {
		delete(h.projects, sub.projectID)
	}

	h.logger.Info("Progress subscriber removed",
		slog.String("project_id", sub.projectID),
		slog.Int("dropped_events", sub.dropped),
	)
}

// Run polls until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("Progress hub started", slog.Duration("poll_interval", h.interval))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Progress hub stopped")
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Hub) tick(ctx context.Context) {
	projectIDs := h.subscribedProjects()

	for id := range h.trackers {
		if !slices.Contains(projectIDs, id) {
			delete(h.trackers, id)
		}
	}
	if len(projectIDs) == 0 {
		return
	}

	active, err := h.source.ListActiveJobs(ctx, projectIDs)
	if err != nil {
		h.logger.Warn("Progress poll failed, retrying next tick", slog.Any("error", err))
		// subscribers still get a heartbeat so the stream stays observably alive
		for _, projectID := range projectIDs {
			h.broadcast(projectID, []Event{newHeartbeat(h.now())})
		}
		return
	}

	byProject := make(map[string][]*domain.Job, len(projectIDs))
	for _, job := range active {
		byProject[job.ProjectID] = append(byProject[job.ProjectID], job)
	}

	for _, projectID := range projectIDs {
		tracker, ok := h.trackers[projectID]
		if !ok {
			tracker = NewTracker()
			h.trackers[projectID] = tracker
		}

		jobs := byProject[projectID]
		events, gone := tracker.Observe(jobs)
		for _, jobID := range gone {
			events = append(events, h.finish(ctx, tracker, jobID)...)
		}
		if len(jobs) == 0 {
			events = append(events, newHeartbeat(h.now()))
		}

		h.broadcast(projectID, events)
	}
}

func (h *Hub) finish(ctx context.Context, tracker *Tracker, jobID string) []Event {
	job, err := h.source.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			tracker.Forget(jobID)
			return nil
		}
		// Keep the snapshot so the terminal event is attempted again next tick.
		h.logger.Warn("Failed to load finished job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil
	}
	return tracker.Finish(job)
}

func (h *Hub) subscribedProjects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.projects))
	for id := range h.projects {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) broadcast(projectID string, events []Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.projects[projectID] {
		for _, ev := range events {
			select {
			case sub.events <- ev:
			default:
				sub.dropped++
				h.logger.Debug("Progress event dropped for slow subscriber",
					slog.String("project_id", projectID),
					slog.String("event", string(ev.EventType())),
				)
			}
		}
	}
}
