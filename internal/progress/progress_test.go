package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	active  []*domain.Job
	byID    map[string]*domain.Job
	listErr error
	lists   int
}

func (f *fakeSource) ListActiveJobs(_ context.Context, projectIDs []string) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.Job
	for _, j := range f.active {
		for _, id := range projectIDs {
			if j.ProjectID == id {
				out = append(out, j.Clone())
			}
		}
	}
	return out, nil
}

func (f *fakeSource) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (f *fakeSource) set(jobs ...*domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	if f.byID == nil {
		f.byID = map[string]*domain.Job{}
	}
	for _, j := range jobs {
		f.byID[j.ID] = j.Clone()
		if j.Status.IsActive() {
			f.active = append(f.active, j.Clone())
		}
	}
}

func newTestHub(source JobSource, buffer int) *Hub {
	return NewHub(Config{
		Source:           source,
		PollInterval:     10 * time.Millisecond,
		SubscriberBuffer: buffer,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:            func() time.Time { return testNow },
	})
}

func pipeline() domain.Pipeline {
	return domain.Pipeline{
		{Key: "step1", Name: "Step One", Order: 1},
		{Key: "step2", Name: "Step Two", Order: 2},
	}
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func TestHub_HeartbeatWithNoActiveJobs(t *testing.T) {
	source := &fakeSource{}
	hub := newTestHub(source, 8)
	sub := hub.Subscribe("proj-1")

	hub.tick(context.Background())
	hub.tick(context.Background())

	events := drain(sub)
	assert.Equal(t, []EventType{TypeHeartbeat, TypeHeartbeat}, types(events))
	hb := events[0].(Heartbeat)
	assert.Equal(t, testNow, hb.Timestamp)
}

func TestHub_NoSubscribersNoPolling(t *testing.T) {
	source := &fakeSource{}
	hub := newTestHub(source, 8)

	hub.tick(context.Background())
	assert.Equal(t, 0, source.lists)
}

func TestHub_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	hub := newTestHub(source, 64)
	sub := hub.Subscribe("proj-1")

	job := domain.NewJob("doc-1", "proj-1", pipeline(), 3, testNow)
	require.NoError(t, job.Start(testNow))
	source.set(job)

	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeJobStatusChanged}, types(drain(sub)))

	require.NoError(t, job.StartStep("step1", testNow))
	source.set(job)
	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeJobStatusChanged, TypeStepStarted}, types(drain(sub)))

	p := 0.5
	require.NoError(t, job.UpdateStepProgress("step1", domain.StepProgressUpdate{Progress: &p}, testNow))
	source.set(job)
	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeJobStatusChanged, TypeStepProgress}, types(drain(sub)))

	require.NoError(t, job.Apply(domain.Pause{}, testNow))
	source.set(job)
	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeJobStatusChanged, TypeJobPaused}, types(drain(sub)))

	require.NoError(t, job.Apply(domain.Resume{}, testNow))
	source.set(job)
	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeJobStatusChanged, TypeJobResumed}, types(drain(sub)))

	require.NoError(t, job.CompleteStep("step1", nil, testNow.Add(2*time.Second)))
	require.NoError(t, job.StartStep("step2", testNow.Add(2*time.Second)))
	require.NoError(t, job.CompleteStep("step2", nil, testNow.Add(5*time.Second)))
	source.set(job)
	hub.tick(ctx)

	events := drain(sub)
	assert.Equal(t, []EventType{
		TypeStepCompleted, TypeStepStarted, TypeStepCompleted,
		TypeJobStatusChanged, TypeJobCompleted, TypeHeartbeat,
	}, types(events))

	completed := events[4].(JobCompleted)
	require.NotNil(t, completed.DurationMs)
	assert.Equal(t, int64(5000), *completed.DurationMs)

	hub.tick(ctx)
	assert.Equal(t, []EventType{TypeHeartbeat}, types(drain(sub)))
}

func TestHub_FailedAndCancelled(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	hub := newTestHub(source, 64)
	sub := hub.Subscribe("proj-1")

	failing := domain.NewJob("doc-1", "proj-1", pipeline(), 3, testNow)
	require.NoError(t, failing.Start(testNow))
	require.NoError(t, failing.StartStep("step1", testNow))
	cancelled := domain.NewJob("doc-2", "proj-1", pipeline(), 3, testNow)
	source.set(failing, cancelled)
	hub.tick(ctx)
	drain(sub)

	require.NoError(t, failing.FailStep("step1", "OCR timeout", testNow))
	require.NoError(t, cancelled.Apply(domain.Cancel{}, testNow))
	source.set(failing, cancelled)
	hub.tick(ctx)

	var sawStepFailed, sawJobFailed, sawCancelled bool
	for _, ev := range drain(sub) {
		switch e := ev.(type) {
		case StepFailed:
			sawStepFailed = true
			assert.Equal(t, "OCR timeout", e.Error)
			assert.True(t, e.CanRetry)
		case JobFailed:
			sawJobFailed = true
			require.NotNil(t, e.FailedStep)
			assert.Equal(t, "step1", *e.FailedStep)
		case JobCancelled:
			sawCancelled = true
			assert.Equal(t, cancelled.ID, e.JobID)
		}
	}
	assert.True(t, sawStepFailed)
	assert.True(t, sawJobFailed)
	assert.True(t, sawCancelled)
}

func TestHub_PollErrorStillHeartbeats(t *testing.T) {
	source := &fakeSource{listErr: errors.New("connection reset")}
	hub := newTestHub(source, 8)
	sub := hub.Subscribe("proj-1")
	other := hub.Subscribe("proj-2")

	hub.tick(context.Background())
	assert.Equal(t, []EventType{TypeHeartbeat}, types(drain(sub)))
	assert.Equal(t, []EventType{TypeHeartbeat}, types(drain(other)))

	source.mu.Lock()
	source.listErr = nil
	source.mu.Unlock()

	hub.tick(context.Background())
	assert.Equal(t, []EventType{TypeHeartbeat}, types(drain(sub)))
}

func TestHub_RunHeartbeatsThroughOutage(t *testing.T) {
	source := &fakeSource{listErr: errors.New("db down")}
	hub := newTestHub(source, 64)
	sub := hub.Subscribe("proj-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	received := 0
	require.Eventually(t, func() bool {
		for _, ev := range drain(sub) {
			if ev.EventType() == TypeHeartbeat {
				received++
			}
		}
		return received >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	source := &fakeSource{}
	hub := newTestHub(source, 1)
	slow := hub.Subscribe("proj-1")
	fast := hub.Subscribe("proj-1")

	for i := 0; i < 3; i++ {
		hub.tick(context.Background())
		drain(fast)
	}

	assert.Len(t, drain(slow), 1)
	hub.Unsubscribe(slow)
	hub.Unsubscribe(slow)

	_, open := <-slow.Events()
	assert.False(t, open)
}

func TestHub_ProjectsAreIsolated(t *testing.T) {
	source := &fakeSource{}
	hub := newTestHub(source, 8)
	a := hub.Subscribe("proj-a")
	b := hub.Subscribe("proj-b")

	job := domain.NewJob("doc-1", "proj-a", pipeline(), 3, testNow)
	source.set(job)
	hub.tick(context.Background())

	assert.Equal(t, []EventType{TypeJobStatusChanged}, types(drain(a)))
	assert.Equal(t, []EventType{TypeHeartbeat}, types(drain(b)))
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	hub := newTestHub(source, 8)
	sub := hub.Subscribe("proj-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeHeartbeat, ev.EventType())
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}
