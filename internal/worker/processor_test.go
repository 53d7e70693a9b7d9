package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	ack     bool
	requeue bool
}

// recordingAcknowledger stands in for the channel behind a delivery
type recordingAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{ack: true})
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{requeue: requeue})
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) only(t *testing.T) settlement {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.settled, 1, "delivery must be settled exactly once")
	return a.settled[0]
}

type processorFixture struct {
	consumer *consumer
	queue    *fakeQueue
	ack      *recordingAcknowledger
}

func newProcessorFixture(t *testing.T, handler Handler) *processorFixture {
	t.Helper()

	handlers := NewRegistry()
	if handler != nil {
		handlers.Register("test", handler)
	}

	w := NewWorker(&Config{
		Logger:     testLogger(),
		Factory:    testFactory(t),
		Handlers:   handlers,
		Queue:      "jobs.mail",
		JobTimeout: 50 * time.Millisecond,
	})
	q := newFakeQueue()

	return &processorFixture{
		consumer: &consumer{worker: w, queue: q, name: "test-0"},
		queue:    q,
		ack:      &recordingAcknowledger{},
	}
}

func (f *processorFixture) deliver(ctx context.Context, body string) {
	f.consumer.handle(ctx, amqp.Delivery{
		Acknowledger: f.ack,
		DeliveryTag:  7,
		ContentType:  job.ContentType,
		Body:         []byte(body),
	})
}

func mailJob(retries int) func(job.Job) bool {
	return func(j job.Job) bool {
		return j.Name == "mail" && j.Retries() == retries && j.State["to"] == "ops@example.com"
	}
}

func TestConsumer_Success(t *testing.T) {
	var got job.Job
	f := newProcessorFixture(t, HandlerFunc(func(_ context.Context, j job.Job) error {
		got = j
		return nil
	}))

	f.deliver(context.Background(), `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`)

	assert.Equal(t, settlement{ack: true}, f.ack.only(t))
	assert.Equal(t, "mail", got.Name)
	assert.Equal(t, map[string]any{"to": "ops@example.com"}, got.State)
	assert.Equal(t, "mail", got.RoutingKey())
	f.queue.AssertNotCalled(t, "Retry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_RejectsUnreadableMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"to":`},
		{name: "no metadata", body: `{"to":"ops@example.com"}`},
		{name: "unknown job", body: `{"metadata":{"job_name":"report"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
				called = true
				return nil
			}))

			f.deliver(context.Background(), tt.body)

			assert.Equal(t, settlement{requeue: false}, f.ack.only(t))
			assert.False(t, called)
		})
	}
}

func TestConsumer_RetryableErrorSchedulesRetry(t *testing.T) {
	f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
		return domain.NewRetryableError(errors.New("smtp unavailable"))
	}))
	f.queue.On("Retry", mock.Anything, mock.MatchedBy(mailJob(1)), "jobs.waiting",
		job.Metadata{MetadataLastError: "retryable error: smtp unavailable"}).Return(nil).Once()

	f.deliver(context.Background(), `{"to":"ops@example.com","metadata":{"job_name":"mail","retries":1}}`)

	assert.Equal(t, settlement{ack: true}, f.ack.only(t))
	f.queue.AssertExpectations(t)
}

func TestConsumer_TimeoutSchedulesRetry(t *testing.T) {
	f := newProcessorFixture(t, HandlerFunc(func(ctx context.Context, _ job.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	f.queue.On("Retry", mock.Anything, mock.MatchedBy(mailJob(0)), "jobs.waiting", mock.Anything).Return(nil).Once()

	f.deliver(context.Background(), `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`)

	assert.Equal(t, settlement{ack: true}, f.ack.only(t))
	f.queue.AssertExpectations(t)
}

func TestConsumer_FailsJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		handlerErr error
		wantReason string
		wantError  string
	}{
		{
			name:       "permanent error",
			body:       `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`,
			handlerErr: errors.New("mailbox does not exist"),
			wantReason: ReasonPermanent,
			wantError:  "mailbox does not exist",
		},
		{
			name:       "retries exhausted",
			body:       `{"to":"ops@example.com","metadata":{"job_name":"mail","retries":2}}`,
			handlerErr: domain.NewRetryableError(errors.New("smtp unavailable")),
			wantReason: "max retries exceeded",
			wantError:  "retryable error: smtp unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
				return tt.handlerErr
			}))

			var metadata job.Metadata
			f.queue.On("Fail", mock.Anything, mock.MatchedBy(func(j job.Job) bool { return j.Name == "mail" }), mock.Anything).
				Run(func(args mock.Arguments) { metadata = args.Get(2).(job.Metadata) }).
				Return(nil).Once()

			f.deliver(context.Background(), tt.body)

			assert.Equal(t, settlement{ack: true}, f.ack.only(t))
			f.queue.AssertExpectations(t)
			f.queue.AssertNotCalled(t, "Retry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

			assert.Equal(t, tt.wantReason, metadata[MetadataReason])
			assert.Equal(t, tt.wantError, metadata[MetadataError])
			assert.Equal(t, 2, metadata[MetadataMaxRetries])
			assert.Equal(t, f.consumer.worker.ID(), metadata[MetadataWorkerID])
		})
	}
}

func TestConsumer_MissingHandlerFailsJob(t *testing.T) {
	f := newProcessorFixture(t, nil)

	var metadata job.Metadata
	f.queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { metadata = args.Get(2).(job.Metadata) }).
		Return(nil).Once()

	f.deliver(context.Background(), `{"metadata":{"job_name":"orphan"}}`)

	assert.Equal(t, settlement{ack: true}, f.ack.only(t))
	assert.Equal(t, ReasonPermanent, metadata[MetadataReason])
	assert.Contains(t, metadata[MetadataError], `no handler registered as "unregistered"`)
}

func TestConsumer_RequeuesWhenSettlementFails(t *testing.T) {
	t.Run("retry publish", func(t *testing.T) {
		f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
			return domain.NewRetryableError(errors.New("busy"))
		}))
		f.queue.On("Retry", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()

		f.deliver(context.Background(), `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`)

		assert.Equal(t, settlement{requeue: true}, f.ack.only(t))
	})

	t.Run("failed event", func(t *testing.T) {
		f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
			return errors.New("bad input")
		}))
		f.queue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database is down")).Once()

		f.deliver(context.Background(), `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`)

		assert.Equal(t, settlement{requeue: true}, f.ack.only(t))
	})
}

func TestConsumer_ShutdownRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := newProcessorFixture(t, HandlerFunc(func(context.Context, job.Job) error {
		cancel()
		return context.Canceled
	}))

	f.deliver(ctx, `{"to":"ops@example.com","metadata":{"job_name":"mail"}}`)

	assert.Equal(t, settlement{requeue: true}, f.ack.only(t))
	f.queue.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecide(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	fresh := job.Job{Strategy: job.Strategy{MaxRetries: 1}}
	spent := job.Job{Strategy: job.Strategy{MaxRetries: 1}, Metadata: job.Metadata{job.MetadataRetries: 1}}
	retryable := domain.NewRetryableError(errors.New("busy"))

	tests := []struct {
		name string
		ctx  context.Context
		job  job.Job
		err  error
		want outcome
	}{
		{name: "success", ctx: context.Background(), job: fresh, want: outcomeAck},
		{name: "success after cancel", ctx: canceled, job: fresh, want: outcomeAck},
		{name: "retryable", ctx: context.Background(), job: fresh, err: retryable, want: outcomeRetry},
		{name: "deadline", ctx: context.Background(), job: fresh, err: context.DeadlineExceeded, want: outcomeRetry},
		{name: "retryable exhausted", ctx: context.Background(), job: spent, err: retryable, want: outcomeFail},
		{name: "permanent", ctx: context.Background(), job: fresh, err: errors.New("bad"), want: outcomeFail},
		{name: "shutdown", ctx: canceled, job: fresh, err: retryable, want: outcomeRequeue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.ctx, tt.job, tt.err))
		})
	}
}
