package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/internal/topology"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Keys added to the metadata of retried and failed jobs
const (
	MetadataLastError  = "last_error"
	MetadataError      = "error"
	MetadataReason     = "reason"
	MetadataMaxRetries = "max_retries"
	MetadataWorkerID   = "worker_id"
)

// ReasonPermanent is recorded on jobs whose handler returned a
// non-retryable error
const ReasonPermanent = "permanent error"

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeFail
	outcomeRequeue
)

// handle is the job.Handler of one consumer
func (c *consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var value map[string]any
	if err := json.Unmarshal(delivery.Body, &value); err != nil {
		c.worker.logger.Error("Failed to parse message JSON",
			slog.String("consumer", c.name),
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery, false)
		return
	}

	j, err := c.worker.factory.CreateJob(value)
	if err != nil {
		c.worker.logger.Error("Failed to restore job from message",
			slog.String("consumer", c.name),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, false)
		return
	}

	c.processJob(ctx, delivery, j)
}

// processJob runs the job's handler and settles the delivery. Retries and
// failures are published before the ack; a failed publish requeues.
func (c *consumer) processJob(ctx context.Context, delivery amqp.Delivery, j job.Job) {
	logger := c.worker.logger.With(
		slog.String("consumer", c.name),
		slog.String("job_name", j.Name),
		slog.Int("retries", j.Retries()),
	)

	def, err := c.worker.factory.Get(j.Name)
	if err != nil {
		logger.Error("Job definition disappeared", slog.String("error", err.Error()))
		c.nack(delivery, false)
		return
	}

	err = c.run(ctx, def, j)

	// the outcome is recorded even when shutdown cancels ctx
	settleCtx := context.WithoutCancel(ctx)

	switch decide(ctx, j, err) {
	case outcomeAck:
		logger.Info("Job completed successfully")
		c.ack(delivery)

	case outcomeRequeue:
		logger.Warn("Job interrupted by shutdown, requeueing", slog.String("error", err.Error()))
		c.nack(delivery, true)

	case outcomeRetry:
		logger.Warn("Job execution failed, retrying", slog.String("error", err.Error()))

		extra := job.Metadata{MetadataLastError: err.Error()}
		if retryErr := c.queue.Retry(settleCtx, j, topology.WaitExchange(def.Exchange), extra); retryErr != nil {
			logger.Error("Failed to schedule retry", slog.String("error", retryErr.Error()))
			c.nack(delivery, true)
			return
		}
		c.ack(delivery)

	case outcomeFail:
		metadata := c.failureMetadata(j, err)
		logger.Error("Job execution failed permanently",
			slog.String("error", err.Error()),
			slog.String("reason", metadata[MetadataReason].(string)),
		)

		if failErr := c.queue.Fail(settleCtx, j, metadata); failErr != nil {
			logger.Error("Failed to record failed job", slog.String("error", failErr.Error()))
			c.nack(delivery, true)
			return
		}
		c.ack(delivery)
	}
}

// run executes the handler under the job timeout
func (c *consumer) run(ctx context.Context, def job.Definition, j job.Job) error {
	handler, ok := c.worker.handlers.Get(def.Handler)
	if !ok {
		return domain.Configurationf("no handler registered as %q", def.Handler)
	}

	if c.worker.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.worker.jobTimeout)
		defer cancel()
	}

	return handler.Handle(ctx, j)
}

func decide(ctx context.Context, j job.Job, err error) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case ctx.Err() != nil:
		return outcomeRequeue
	case domain.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		if j.CanRetry() {
			return outcomeRetry
		}
		return outcomeFail
	default:
		return outcomeFail
	}
}

func (c *consumer) failureMetadata(j job.Job, err error) job.Metadata {
	reason := ReasonPermanent
	if domain.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		reason = domain.ErrMaxRetriesExceeded.Error()
	}

	return job.Metadata{
		MetadataError:      err.Error(),
		MetadataReason:     reason,
		MetadataMaxRetries: j.Strategy.MaxRetries,
		MetadataWorkerID:   c.worker.workerID,
	}
}

func (c *consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.worker.logger.Error("Failed to ACK message",
			slog.String("consumer", c.name),
			slog.String("error", err.Error()),
		)
	}
}

func (c *consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.worker.logger.Error("Failed to NACK message",
			slog.String("consumer", c.name),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
