package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/buildbid/docproc-service/internal/aiservice"
	jobsdomain "github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageSource delivers orchestrator triggers
type MessageSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// JobReader loads the current state of a job
type JobReader interface {
	GetJobByID(ctx context.Context, jobID string) (*jobsdomain.Job, error)
}

// Dispatcher hands a job to the AI service
type Dispatcher interface {
	SubmitIngest(ctx context.Context, req aiservice.IngestRequest) (*aiservice.JobResponse, error)
}

// StaleJobReaper fails running jobs that stopped reporting progress
type StaleJobReaper interface {
	FailStaleJobs(ctx context.Context, olderThan time.Duration, now time.Time) ([]*jobsdomain.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	Messages       MessageSource
	Jobs           JobReader
	Dispatcher     Dispatcher
	Reaper         StaleJobReaper
	WorkerID       string
	QueueName      string
	Concurrency    int
	PrefetchCount  int
	JobTimeout     time.Duration
	ReaperInterval time.Duration
	StaleJobAfter  time.Duration
	Clock          func() time.Time
}

// Worker consumes orchestrator triggers and forwards runnable jobs to the AI service
type Worker struct {
	logger            *slog.Logger
	messages          MessageSource
	jobs              JobReader
	dispatcher        Dispatcher
	reaper            StaleJobReaper
	workerID          string
	rabbitMQQueueName string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	reaperInterval    time.Duration
	staleJobAfter     time.Duration
	now               func() time.Time

	jobsChan chan *domain.JobMessage
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		logger:            cfg.Logger,
		messages:          cfg.Messages,
		jobs:              cfg.Jobs,
		dispatcher:        cfg.Dispatcher,
		reaper:            cfg.Reaper,
		workerID:          cfg.WorkerID,
		rabbitMQQueueName: cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		reaperInterval:    cfg.ReaperInterval,
		staleJobAfter:     cfg.StaleJobAfter,
		now:               clock,
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes triggers until ctx is cancelled or the delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if w.reaper != nil && w.staleJobAfter > 0 {
		w.wg.Add(1)
		go w.runReaper(ctx)
	}

	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop signals the pool and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
