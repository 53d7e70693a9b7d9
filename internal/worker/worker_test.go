package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeQueue mocks Queue. Its consumer loop ends when the consume context is
// canceled or stop is called.
type fakeQueue struct {
	mock.Mock

	once sync.Once
	done chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{done: make(chan struct{})}
}

func (q *fakeQueue) Consume(ctx context.Context, queue string, handler job.Handler) (rabbitmq.Channel, error) {
	if err := q.Called(queue).Error(0); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		q.stop()
	}()
	return nil, nil
}

func (q *fakeQueue) Retry(ctx context.Context, j job.Job, exchange string, extra job.Metadata) error {
	return q.Called(ctx, j, exchange, extra).Error(0)
}

func (q *fakeQueue) Fail(ctx context.Context, j job.Job, metadata job.Metadata) error {
	return q.Called(ctx, j, metadata).Error(0)
}

func (q *fakeQueue) Wait() {
	<-q.done
}

func (q *fakeQueue) Close() error {
	return q.Called().Error(0)
}

func (q *fakeQueue) stop() {
	q.once.Do(func() { close(q.done) })
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFactory(t *testing.T) *job.Factory {
	t.Helper()

	factory, err := job.NewFactory(job.JobMap{
		"mail": {
			Exchange:   "jobs",
			Queue:      "jobs.mail",
			RoutingKey: "mail",
			Handler:    "test",
			Strategy:   job.StrategyDefinition{RetryInterval: time.Second, MaxRetries: 2},
		},
		"orphan": {
			Exchange:   "jobs",
			Queue:      "jobs.orphan",
			RoutingKey: "orphan",
			Handler:    "unregistered",
			Strategy:   job.StrategyDefinition{RetryInterval: time.Second},
		},
	})
	require.NoError(t, err)
	return factory
}

type workerFixture struct {
	worker *Worker

	mu     sync.Mutex
	queues []*fakeQueue
	setup  func(q *fakeQueue, n int)
}

func newWorkerFixture(t *testing.T, concurrency int, setup func(q *fakeQueue, n int)) *workerFixture {
	t.Helper()

	f := &workerFixture{setup: setup}
	f.worker = NewWorker(&Config{
		Logger:   testLogger(),
		Factory:  testFactory(t),
		Handlers: NewRegistry(),
		NewQueue: func() Queue {
			f.mu.Lock()
			defer f.mu.Unlock()

			q := newFakeQueue()
			f.setup(q, len(f.queues))
			f.queues = append(f.queues, q)
			return q
		},
		Queue:       "jobs.mail",
		Concurrency: concurrency,
		JobTimeout:  time.Second,
	})

	return f
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{Logger: testLogger(), Concurrency: 0})

	assert.Equal(t, 1, w.concurrency)
	assert.NotEmpty(t, w.ID())
	assert.NotEqual(t, w.ID(), NewWorker(&Config{Logger: testLogger()}).ID())
}

func TestWorker_StartAndStop(t *testing.T) {
	f := newWorkerFixture(t, 3, func(q *fakeQueue, _ int) {
		q.On("Consume", "jobs.mail").Return(nil).Once()
		q.On("Close").Return(nil).Once()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.worker.Start(ctx) }()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.queues) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	f.worker.Stop()

	for _, q := range f.queues {
		q.AssertExpectations(t)
	}
}

func TestWorker_StartConsumeError(t *testing.T) {
	f := newWorkerFixture(t, 3, func(q *fakeQueue, n int) {
		if n == 1 {
			q.On("Consume", "jobs.mail").Return(errors.New("NOT_FOUND - no queue 'jobs.mail'")).Once()
		} else {
			q.On("Consume", "jobs.mail").Return(nil).Once()
		}
		q.On("Close").Return(nil).Once()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := f.worker.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consumer")
	assert.Contains(t, err.Error(), "no queue")

	require.Len(t, f.queues, 2)
	for _, q := range f.queues {
		q.AssertExpectations(t)
	}
}

func TestWorker_StartReturnsWhenConsumersStop(t *testing.T) {
	f := newWorkerFixture(t, 2, func(q *fakeQueue, _ int) {
		q.On("Consume", "jobs.mail").Return(nil).Once()
		q.On("Close").Return(nil).Once()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.worker.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.queues) == 2
	}, time.Second, 5*time.Millisecond)

	f.mu.Lock()
	for _, q := range f.queues {
		q.stop()
	}
	f.mu.Unlock()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConsumersStopped)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after consumers stopped")
	}

	f.worker.Stop()
	for _, q := range f.queues {
		q.AssertExpectations(t)
	}
}

func TestWorker_StopLogsCloseError(t *testing.T) {
	f := newWorkerFixture(t, 1, func(q *fakeQueue, _ int) {
		q.On("Consume", "jobs.mail").Return(nil).Once()
		q.On("Close").Return(errors.New("connection reset")).Once()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.worker.Start(ctx))
	f.worker.Stop()

	// a second Stop has nothing left to close
	f.worker.Stop()
	f.queues[0].AssertExpectations(t)
}
