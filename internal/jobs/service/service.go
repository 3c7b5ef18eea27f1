package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/buildbid/docproc-service/internal/trigger"
)

// JobStore is the persistence the service drives
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, projectID, jobID string) (*domain.Job, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, projectID string, filter storage.JobFilter, page storage.Page) ([]*domain.Job, int, error)
	UpdateJob(ctx context.Context, projectID, jobID string, fn func(*domain.Job) error) (*domain.Job, error)
}

// DocumentChecker verifies a document belongs to a project
type DocumentChecker interface {
	DocumentInProject(ctx context.Context, projectID, documentID string) error
}

// Notifier hands a job to the external worker
type Notifier interface {
	Notify(ctx context.Context, msg trigger.Message) error
}

// Config holds service dependencies
type Config struct {
	Store      JobStore
	Documents  DocumentChecker
	Notifier   Notifier
	Pipeline   domain.Pipeline
	MaxRetries int
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service creates, reads and controls processing jobs
type Service struct {
	store      JobStore
	documents  DocumentChecker
	notifier   Notifier
	pipeline   domain.Pipeline
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// New validates the pipeline and builds a Service
func New(cfg Config) (*Service, error) {
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		store:      cfg.Store,
		documents:  cfg.Documents,
		notifier:   cfg.Notifier,
		pipeline:   cfg.Pipeline,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
		now:        clock,
	}, nil
}

// Create starts processing a document. With autoStart the job is marked running and the
// worker is notified; a failed notification is logged and the job stays running.
func (s *Service) Create(ctx context.Context, projectID, documentID string, autoStart bool) (*domain.Job, error) {
	if err := s.documents.DocumentInProject(ctx, projectID, documentID); err != nil {
		return nil, err
	}

	job := domain.NewJob(documentID, projectID, s.pipeline, s.maxRetries, s.now())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if !autoStart {
		return job, nil
	}

	started, err := s.store.UpdateJob(ctx, projectID, job.ID, func(j *domain.Job) error {
		return j.Start(s.now())
	})
	if err != nil {
		s.logger.Error("Failed to start job, leaving it queued",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return job, nil
	}

	s.notify(ctx, started, trigger.ReasonStart)
	return started, nil
}

// Get returns a job with its steps
func (s *Service) Get(ctx context.Context, projectID, jobID string) (*domain.Job, error) {
	return s.store.GetJob(ctx, projectID, jobID)
}

// List returns a page of a project's jobs and the total number of matches
func (s *Service) List(ctx context.Context, projectID string, filter storage.JobFilter, page storage.Page) ([]*domain.Job, int, error) {
	return s.store.ListJobs(ctx, projectID, filter, page)
}

// Control applies an operator action atomically. actor is recorded in the log only.
func (s *Service) Control(ctx context.Context, projectID, jobID string, action domain.Action, actor string) (*domain.Job, error) {
	var from domain.JobStatus
	job, err := s.store.UpdateJob(ctx, projectID, jobID, func(j *domain.Job) error {
		from = j.Status
		return j.Apply(action, s.now())
	})
	if err != nil {
		s.logger.Info("Job control rejected",
			slog.String("job_id", jobID),
			slog.String("action", action.Name()),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("Job control applied",
		slog.String("job_id", jobID),
		slog.String("action", action.Name()),
		slog.String("actor", actor),
		slog.String("from", string(from)),
		slog.String("to", string(job.Status)),
	)

	switch action.(type) {
	case domain.Resume:
		s.notify(ctx, job, trigger.ReasonResume)
	case domain.RetryStep, domain.RetryJob:
		s.notify(ctx, job, trigger.ReasonRetry)
	}

	return job, nil
}

func (s *Service) notify(ctx context.Context, job *domain.Job, reason trigger.Reason) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, trigger.NewMessage(job, reason, s.now())); err != nil {
		s.logger.Error("Failed to notify worker",
			slog.String("job_id", job.ID),
			slog.String("reason", string(reason)),
			slog.Any("error", err),
		)
	}
}
