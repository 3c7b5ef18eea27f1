package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/buildbid/docproc-service/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryStore serializes UpdateJob under one lock, standing in for the row lock.
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]*domain.Job{}}
}

func (m *memoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.DocumentID == job.DocumentID && existing.Status.IsActive() {
			return &domain.ActiveJobError{DocumentID: job.DocumentID, JobID: existing.ID}
		}
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memoryStore) GetJob(_ context.Context, projectID, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || (projectID != "" && job.ProjectID != projectID) {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *memoryStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.GetJob(ctx, "", jobID)
}

func (m *memoryStore) ListJobs(_ context.Context, projectID string, filter storage.JobFilter, page storage.Page) ([]*domain.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.DocumentID != "" && j.DocumentID != filter.DocumentID {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	total := len(out)
	start := (page.Page - 1) * page.PerPage
	if start > total {
		start = total
	}
	end := min(start+page.PerPage, total)
	return out[start:end], total, nil
}

func (m *memoryStore) UpdateJob(_ context.Context, projectID, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[jobID]
	if !ok || (projectID != "" && current.ProjectID != projectID) {
		return nil, domain.ErrJobNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	m.jobs[jobID] = working
	return working.Clone(), nil
}

type fakeDocuments map[string]string

func (f fakeDocuments) DocumentInProject(_ context.Context, projectID, documentID string) error {
	if f[documentID] != projectID {
		return domain.ErrDocumentNotFound
	}
	return nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, msg trigger.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func threeSteps() domain.Pipeline {
	return domain.Pipeline{
		{Key: "step1", Name: "Step One", Order: 1},
		{Key: "step2", Name: "Step Two", Order: 2},
		{Key: "step3", Name: "Step Three", Order: 3},
	}
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	svc, err := New(Config{
		Store:      store,
		Documents:  fakeDocuments{"doc-1": "proj-1", "doc-2": "proj-1"},
		Notifier:   notifier,
		Pipeline:   threeSteps(),
		MaxRetries: 3,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc, store
}

func reasonIs(r trigger.Reason) interface{} {
	return mock.MatchedBy(func(msg trigger.Message) bool { return msg.Reason == r })
}

func TestNew_RejectsInvalidPipeline(t *testing.T) {
	_, err := New(Config{Pipeline: domain.Pipeline{}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("queued without auto start", func(t *testing.T) {
		notifier := new(mockNotifier)
		svc, _ := newTestService(t, notifier)

		job, err := svc.Create(ctx, "proj-1", "doc-1", false)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 3, job.TotalSteps)
		assert.Equal(t, 0, job.CompletedSteps)
		require.Len(t, job.Steps, 3)
		for _, s := range job.Steps {
			assert.Equal(t, domain.StepStatusPending, s.Status)
		}
		notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	})

	t.Run("auto start marks running and notifies", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("Notify", ctx, reasonIs(trigger.ReasonStart)).Return(nil).Once()
		svc, _ := newTestService(t, notifier)

		job, err := svc.Create(ctx, "proj-1", "doc-1", true)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)
		notifier.AssertExpectations(t)
	})

	t.Run("notify failure keeps job running", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("Notify", ctx, mock.Anything).Return(errors.New("broker down")).Once()
		svc, store := newTestService(t, notifier)

		job, err := svc.Create(ctx, "proj-1", "doc-1", true)
		require.NoError(t, err)

		stored, err := store.GetJob(ctx, "proj-1", job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, stored.Status)
		notifier.AssertNumberOfCalls(t, "Notify", 1)
	})

	t.Run("second active job for document conflicts", func(t *testing.T) {
		svc, _ := newTestService(t, nil)

		first, err := svc.Create(ctx, "proj-1", "doc-1", false)
		require.NoError(t, err)

		_, err = svc.Create(ctx, "proj-1", "doc-1", false)
		assert.ErrorIs(t, err, domain.ErrConflict)

		_, err = svc.Control(ctx, "proj-1", first.ID, domain.Cancel{}, "user-1")
		require.NoError(t, err)

		_, err = svc.Create(ctx, "proj-1", "doc-1", false)
		assert.NoError(t, err)
	})

	t.Run("document outside project", func(t *testing.T) {
		svc, _ := newTestService(t, nil)

		_, err := svc.Create(ctx, "proj-2", "doc-1", false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestControl_PauseResume(t *testing.T) {
	ctx := context.Background()
	notifier := new(mockNotifier)
	notifier.On("Notify", ctx, reasonIs(trigger.ReasonStart)).Return(nil)
	notifier.On("Notify", ctx, reasonIs(trigger.ReasonResume)).Return(nil).Once()
	svc, _ := newTestService(t, notifier)

	job, err := svc.Create(ctx, "proj-1", "doc-1", true)
	require.NoError(t, err)

	paused, err := svc.Control(ctx, "proj-1", job.ID, domain.Pause{}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	resumed, err := svc.Control(ctx, "proj-1", job.ID, domain.Resume{}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	notifier.AssertExpectations(t)
}

func TestControl_RejectedLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	job, err := svc.Create(ctx, "proj-1", "doc-1", false)
	require.NoError(t, err)
	before, err := store.GetJob(ctx, "proj-1", job.ID)
	require.NoError(t, err)

	_, err = svc.Control(ctx, "proj-1", job.ID, domain.Resume{}, "user-1")
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "queued", te.Current)
	assert.Equal(t, "resume", te.Requested)

	after, err := store.GetJob(ctx, "proj-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestControl_WrongProject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	job, err := svc.Create(ctx, "proj-1", "doc-1", false)
	require.NoError(t, err)

	_, err = svc.Control(ctx, "proj-2", job.ID, domain.Cancel{}, "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestControl_ConcurrentPause(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	job, err := svc.Create(ctx, "proj-1", "doc-1", true)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Control(ctx, "proj-1", job.ID, domain.Pause{}, "user-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
}

func TestScenario_WorkerFailureThenRetryStep(t *testing.T) {
	ctx := context.Background()
	notifier := new(mockNotifier)
	notifier.On("Notify", ctx, mock.Anything).Return(nil)
	svc, _ := newTestService(t, notifier)

	job, err := svc.Create(ctx, "proj-1", "doc-1", true)
	require.NoError(t, err)

	_, err = svc.StartStep(ctx, job.ID, "step1")
	require.NoError(t, err)
	_, err = svc.CompleteStep(ctx, job.ID, "step1", nil)
	require.NoError(t, err)
	_, err = svc.StartStep(ctx, job.ID, "step2")
	require.NoError(t, err)
	failed, err := svc.FailStep(ctx, job.ID, "step2", "OCR timeout")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, "step2", *failed.ErrorStep)
	assert.True(t, failed.CanRetry())

	retried, err := svc.Control(ctx, "proj-1", job.ID, domain.RetryStep{StepKey: "step2"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	step, err := retried.Step("step2")
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusPending, step.Status)

	notifier.AssertCalled(t, "Notify", ctx, reasonIs(trigger.ReasonRetry))
}

func TestWriteback_CancelledJobStopsWorker(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	job, err := svc.Create(ctx, "proj-1", "doc-1", true)
	require.NoError(t, err)
	_, err = svc.Control(ctx, "proj-1", job.ID, domain.Cancel{}, "user-1")
	require.NoError(t, err)

	_, err = svc.StartStep(ctx, job.ID, "step1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.Create(ctx, "proj-1", "doc-1", false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "proj-1", "doc-2", true)
	require.NoError(t, err)

	jobs, total, err := svc.List(ctx, "proj-1", storage.JobFilter{Status: domain.JobStatusRunning}, storage.Page{Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "doc-2", jobs[0].DocumentID)
}
