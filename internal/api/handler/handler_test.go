package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buildbid/docproc-service/internal/api/dto"
	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/buildbid/docproc-service/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	projectID  = "0d6b1f7e-52a8-4a36-9d0c-1f1d3c0b8a01"
	documentID = "6f1f2f4e-3f57-4a7b-8a0b-6c3e2a1d9b02"
	jobID      = "a3c9e0d4-7b1f-4c6e-9f2a-5d8b0e1c2f03"
	userID     = "5b0c7a57-8a3f-4a53-9b8f-0b8d2b3c9e11"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type mockJobService struct {
	mock.Mock
}

func (m *mockJobService) Create(ctx context.Context, projectID, documentID string, autoStart bool) (*domain.Job, error) {
	args := m.Called(ctx, projectID, documentID, autoStart)
	return jobArg(args)
}

func (m *mockJobService) Get(ctx context.Context, projectID, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, projectID, jobID)
	return jobArg(args)
}

func (m *mockJobService) List(ctx context.Context, projectID string, filter storage.JobFilter, page storage.Page) ([]*domain.Job, int, error) {
	args := m.Called(ctx, projectID, filter, page)
	jobs, _ := args.Get(0).([]*domain.Job)
	return jobs, args.Int(1), args.Error(2)
}

func (m *mockJobService) Control(ctx context.Context, projectID, jobID string, action domain.Action, actor string) (*domain.Job, error) {
	args := m.Called(ctx, projectID, jobID, action, actor)
	return jobArg(args)
}

func (m *mockJobService) StartJob(ctx context.Context, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, jobID)
	return jobArg(args)
}

func (m *mockJobService) StartStep(ctx context.Context, jobID, stepKey string) (*domain.Job, error) {
	args := m.Called(ctx, jobID, stepKey)
	return jobArg(args)
}

func (m *mockJobService) ReportProgress(ctx context.Context, jobID, stepKey string, update domain.StepProgressUpdate) (*domain.Job, error) {
	args := m.Called(ctx, jobID, stepKey, update)
	return jobArg(args)
}

func (m *mockJobService) CompleteStep(ctx context.Context, jobID, stepKey string, details json.RawMessage) (*domain.Job, error) {
	args := m.Called(ctx, jobID, stepKey, details)
	return jobArg(args)
}

func (m *mockJobService) SkipStep(ctx context.Context, jobID, stepKey, reason string) (*domain.Job, error) {
	args := m.Called(ctx, jobID, stepKey, reason)
	return jobArg(args)
}

func (m *mockJobService) FailStep(ctx context.Context, jobID, stepKey, message string) (*domain.Job, error) {
	args := m.Called(ctx, jobID, stepKey, message)
	return jobArg(args)
}

func jobArg(args mock.Arguments) (*domain.Job, error) {
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(status domain.JobStatus) *domain.Job {
	job := domain.NewJob(documentID, projectID, domain.Pipeline{
		{Key: "step1", Name: "Step One", Order: 1},
		{Key: "step2", Name: "Step Two", Order: 2},
	}, domain.DefaultMaxRetries, testNow)
	job.ID = jobID
	job.Status = status
	return job
}

func setupRouter(svc *mockJobService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(&Dependencies{Logger: testLogger(), Jobs: svc})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(RequestIDKey, "req-1")
		c.Set(UserIDKey, userID)
	})
	p := r.Group("/projects/:project_id")
	p.POST("/documents/:document_id/process", h.ProcessDocument)
	p.GET("/jobs", h.ListJobs)
	p.GET("/jobs/:job_id", h.GetJob)
	p.POST("/jobs/:job_id/control", h.ControlJob)

	w := r.Group("/internal/jobs/:job_id")
	w.POST("/start", h.StartJob)
	w.POST("/steps/:step_key/progress", h.ReportStepProgress)
	w.POST("/steps/:step_key/complete", h.CompleteStep)
	w.POST("/steps/:step_key/fail", h.FailStep)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestProcessDocument(t *testing.T) {
	path := fmt.Sprintf("/projects/%s/documents/%s/process", projectID, documentID)

	tests := []struct {
		name       string
		body       string
		autoStart  bool
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "default auto start", body: "", autoStart: true, wantStatus: http.StatusCreated},
		{name: "explicit queued", body: `{"auto_start":false}`, autoStart: false, wantStatus: http.StatusCreated},
		{
			name: "active job exists", autoStart: true,
			err:        &domain.ActiveJobError{DocumentID: documentID, JobID: jobID},
			wantStatus: http.StatusConflict, wantCode: CodeConflict,
		},
		{
			name: "unknown document", autoStart: true,
			err:        domain.ErrDocumentNotFound,
			wantStatus: http.StatusNotFound, wantCode: CodeNotFound,
		},
		{
			name: "store failure is hidden", autoStart: true,
			err:        fmt.Errorf("connection reset"),
			wantStatus: http.StatusInternalServerError, wantCode: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockJobService)
			if tt.err != nil {
				svc.On("Create", mock.Anything, projectID, documentID, tt.autoStart).Return(nil, tt.err)
			} else {
				svc.On("Create", mock.Anything, projectID, documentID, tt.autoStart).Return(testJob(domain.JobStatusQueued), nil)
			}

			w := do(setupRouter(svc), http.MethodPost, path, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				resp := decodeError(t, w)
				assert.Equal(t, tt.wantCode, resp.Code)
				assert.Equal(t, "req-1", resp.RequestID)
				assert.NotContains(t, resp.Message, "connection reset")
			} else {
				var resp struct {
					Data dto.JobDTO `json:"data"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, jobID, resp.Data.ID)
				assert.Len(t, resp.Data.Steps, 2)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestProcessDocument_InvalidDocumentID(t *testing.T) {
	svc := new(mockJobService)
	w := do(setupRouter(svc), http.MethodPost, "/projects/"+projectID+"/documents/nope/process", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListJobs(t *testing.T) {
	svc := new(mockJobService)
	svc.On("List", mock.Anything, projectID,
		storage.JobFilter{Status: domain.JobStatusRunning},
		storage.Page{Page: 2, PerPage: 10},
	).Return([]*domain.Job{testJob(domain.JobStatusRunning)}, 11, nil)

	w := do(setupRouter(svc), http.MethodGet, "/projects/"+projectID+"/jobs?status=running&page=2&per_page=10", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, dto.PaginationDTO{
		Page: 2, PerPage: 10, TotalItems: 11, TotalPages: 2, HasNext: false, HasPrev: true,
	}, resp.Pagination)
	svc.AssertExpectations(t)
}

func TestListJobs_BadFilters(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "unknown status", query: "status=exploded"},
		{name: "document id not uuid", query: "document_id=abc"},
		{name: "page not a number", query: "page=first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockJobService)
			w := do(setupRouter(svc), http.MethodGet, "/projects/"+projectID+"/jobs?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	svc := new(mockJobService)
	svc.On("Get", mock.Anything, projectID, jobID).Return(nil, domain.ErrJobNotFound)

	w := do(setupRouter(svc), http.MethodGet, "/projects/"+projectID+"/jobs/"+jobID, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, w).Code)
}

func TestControlJob(t *testing.T) {
	path := fmt.Sprintf("/projects/%s/jobs/%s/control", projectID, jobID)

	tests := []struct {
		name       string
		body       string
		action     domain.Action
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "pause", body: `{"action":"pause"}`, action: domain.Pause{}, wantStatus: http.StatusOK},
		{
			name: "retry step flat", body: `{"action":"retry_step","step_key":"step2"}`,
			action: domain.RetryStep{StepKey: "step2"}, wantStatus: http.StatusOK,
		},
		{
			name: "retry step tagged", body: `{"action":{"retry_step":{"step_key":"step2"}}}`,
			action: domain.RetryStep{StepKey: "step2"}, wantStatus: http.StatusOK,
		},
		{
			name: "invalid transition", body: `{"action":"resume"}`, action: domain.Resume{},
			err:        &domain.TransitionError{Subject: "job", Current: "running", Requested: "resume"},
			wantStatus: http.StatusBadRequest, wantCode: CodeInvalidTransition,
		},
		{
			name: "retries exhausted", body: `{"action":"retry_job"}`, action: domain.RetryJob{},
			err:        domain.ErrRetryExhausted,
			wantStatus: http.StatusBadRequest, wantCode: CodeRetryExhausted,
		},
		{name: "unknown action", body: `{"action":"explode"}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "retry step without key", body: `{"action":"retry_step"}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "missing action", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockJobService)
			if tt.action != nil {
				if tt.err != nil {
					svc.On("Control", mock.Anything, projectID, jobID, tt.action, userID).Return(nil, tt.err)
				} else {
					svc.On("Control", mock.Anything, projectID, jobID, tt.action, userID).Return(testJob(domain.JobStatusPaused), nil)
				}
			}

			w := do(setupRouter(svc), http.MethodPost, path, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestWriteBack(t *testing.T) {
	base := "/internal/jobs/" + jobID

	t.Run("start", func(t *testing.T) {
		svc := new(mockJobService)
		svc.On("StartJob", mock.Anything, jobID).Return(testJob(domain.JobStatusRunning), nil)

		w := do(setupRouter(svc), http.MethodPost, base+"/start", "")
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("progress", func(t *testing.T) {
		svc := new(mockJobService)
		svc.On("ReportProgress", mock.Anything, jobID, "step1", mock.MatchedBy(func(u domain.StepProgressUpdate) bool {
			return u.ItemsProcessed != nil && *u.ItemsProcessed == 3 && u.ItemsTotal != nil && *u.ItemsTotal == 10
		})).Return(testJob(domain.JobStatusRunning), nil)

		w := do(setupRouter(svc), http.MethodPost, base+"/steps/step1/progress", `{"items_processed":3,"items_total":10}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("complete on cancelled job", func(t *testing.T) {
		svc := new(mockJobService)
		svc.On("CompleteStep", mock.Anything, jobID, "step1", json.RawMessage(nil)).
			Return(nil, &domain.TransitionError{Subject: "job", Current: "cancelled", Requested: "complete step"})

		w := do(setupRouter(svc), http.MethodPost, base+"/steps/step1/complete", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeInvalidTransition, decodeError(t, w).Code)
	})

	t.Run("fail requires message", func(t *testing.T) {
		svc := new(mockJobService)
		w := do(setupRouter(svc), http.MethodPost, base+"/steps/step1/fail", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "FailStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fail", func(t *testing.T) {
		svc := new(mockJobService)
		svc.On("FailStep", mock.Anything, jobID, "step1", "OCR timeout").Return(testJob(domain.JobStatusFailed), nil)

		w := do(setupRouter(svc), http.MethodPost, base+"/steps/step1/fail", `{"error":"OCR timeout"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})
}

type emptySource struct{}

func (emptySource) ListActiveJobs(context.Context, []string) ([]*domain.Job, error) { return nil, nil }
func (emptySource) GetJobByID(context.Context, string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}

// closeNotifyingRecorder satisfies http.CloseNotifier, which gin's Stream requires
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestStreamJobs_SendsHeartbeats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := progress.NewHub(progress.Config{
		Source:       emptySource{},
		PollInterval: 10 * time.Millisecond,
		Logger:       testLogger(),
	})

	runCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(runCtx)

	h := NewJobHandler(&Dependencies{Logger: testLogger(), Progress: hub})
	r := gin.New()
	r.GET("/projects/:project_id/jobs/stream", h.StreamJobs)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/projects/"+projectID+"/jobs/stream", nil).WithContext(ctx)
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Contains(t, w.Body.String(), "event:heartbeat")
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, perPage int
		want          storage.Page
	}{
		{0, 0, storage.Page{Page: 1, PerPage: DefaultPerPage}},
		{-3, 5, storage.Page{Page: 1, PerPage: 5}},
		{4, 1000, storage.Page{Page: 4, PerPage: MaxPerPage}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePage(tt.page, tt.perPage))
	}
}

func TestNewPagination_Empty(t *testing.T) {
	p := newPagination(storage.Page{Page: 1, PerPage: 20}, 0)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNext)
	assert.False(t, p.HasPrev)
}
