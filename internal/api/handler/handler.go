package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/buildbid/docproc-service/internal/progress"
	"github.com/buildbid/docproc-service/shared/jwt"
)

// Context keys set by middleware
const (
	RequestIDKey = "request_id"
	UserIDKey    = "user_id"
)

// JobService is the job orchestration the handlers expose
type JobService interface {
	Create(ctx context.Context, projectID, documentID string, autoStart bool) (*domain.Job, error)
	Get(ctx context.Context, projectID, jobID string) (*domain.Job, error)
	List(ctx context.Context, projectID string, filter storage.JobFilter, page storage.Page) ([]*domain.Job, int, error)
	Control(ctx context.Context, projectID, jobID string, action domain.Action, actor string) (*domain.Job, error)

	StartJob(ctx context.Context, jobID string) (*domain.Job, error)
	StartStep(ctx context.Context, jobID, stepKey string) (*domain.Job, error)
	ReportProgress(ctx context.Context, jobID, stepKey string, update domain.StepProgressUpdate) (*domain.Job, error)
	CompleteStep(ctx context.Context, jobID, stepKey string, details json.RawMessage) (*domain.Job, error)
	SkipStep(ctx context.Context, jobID, stepKey, reason string) (*domain.Job, error)
	FailStep(ctx context.Context, jobID, stepKey, message string) (*domain.Job, error)
}

// ProgressStream hands out per-project event subscriptions
type ProgressStream interface {
	Subscribe(projectID string) *progress.Subscription
	Unsubscribe(sub *progress.Subscription)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TokenValidator verifies bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Dependencies holds all dependencies needed by handlers and middleware
type Dependencies struct {
	Logger        *slog.Logger
	Jobs          JobService
	Progress      ProgressStream
	Database      HealthChecker
	Owners        storage.OwnerLookup
	Tokens        TokenValidator
	InternalToken string
	ServiceName   string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	jobs     JobService
	progress ProgressStream
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		jobs:     deps.Jobs,
		progress: deps.Progress,
	}
}
