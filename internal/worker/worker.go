package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	"github.com/google/uuid"
)

// ErrConsumersStopped is returned by Start when every consumer ended while
// the worker context was still alive, usually after the broker closed the
// delivery streams.
var ErrConsumersStopped = errors.New("all consumers stopped")

// Queue is the part of job.Service a consumer needs
type Queue interface {
	Consume(ctx context.Context, queue string, handler job.Handler) (rabbitmq.Channel, error)
	Retry(ctx context.Context, j job.Job, exchange string, extra job.Metadata) error
	Fail(ctx context.Context, j job.Job, metadata job.Metadata) error
	Wait()
	Close() error
}

var _ Queue = (*job.Service)(nil)

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Factory  *job.Factory
	Handlers *Registry

	// NewQueue returns a fresh Queue for each consumer
	NewQueue func() Queue

	Queue       string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker runs Concurrency consumers on one queue and hands every job to the
// handler named in its definition
type Worker struct {
	logger      *slog.Logger
	factory     *job.Factory
	handlers    *Registry
	newQueue    func() Queue
	queue       string
	concurrency int
	jobTimeout  time.Duration
	workerID    string

	mu     sync.Mutex
	queues []Queue
	wg     sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		logger:      cfg.Logger,
		factory:     cfg.Factory,
		handlers:    cfg.Handlers,
		newQueue:    cfg.NewQueue,
		queue:       cfg.Queue,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		workerID:    newWorkerID(),
	}
}

// ID returns the identifier the worker logs and stamps on failed jobs
func (w *Worker) ID() string {
	return w.workerID
}

// Start begins consuming and blocks until ctx is canceled or every consumer
// has stopped
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.queue),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	if err := w.spawnConsumers(ctx); err != nil {
		w.closeQueues()
		return err
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return ErrConsumersStopped
	}
}

// Stop waits for in-flight jobs and closes every consumer channel. Cancel the
// context passed to Start first.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.wg.Wait()
	w.closeQueues()
	w.logger.Info("Worker stopped")
}

func (w *Worker) closeQueues() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, q := range w.queues {
		if err := q.Close(); err != nil {
			w.logger.Warn("Failed to close consumer channel",
				slog.String("error", err.Error()),
			)
		}
	}
	w.queues = nil
}

func newWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}
