package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentType of every job message
const ContentType = "application/json"

// Handler processes one delivery. It must ack or nack the delivery before
// returning.
type Handler func(ctx context.Context, delivery amqp.Delivery)

// Config holds the collaborators of a Service
type Config struct {
	Connector rabbitmq.Connector
	EventBus  EventBus
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Service publishes, consumes, retries and fails jobs over a single channel.
//
// The channel is opened on first use and kept until Close, or until the
// broker closes it, in which case the next call opens a new one. A Service is not
// meant to be shared between consumers; run one per consumer instead.
type Service struct {
	connector rabbitmq.Connector
	eventBus  EventBus
	metrics   *Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	channel rabbitmq.Channel
	wg      sync.WaitGroup
}

// NewService creates a Service
func NewService(cfg Config) *Service {
	return &Service{
		connector: cfg.Connector,
		eventBus:  cfg.EventBus,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// acquire returns the service channel, opening it if needed
func (s *Service) acquire() (rabbitmq.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		return s.channel, nil
	}

	ch, err := s.connector.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	s.channel = ch

	return ch, nil
}

// Dispatch publishes job as a persistent message to exchange using the job's
// routing key. No publisher confirm is awaited.
func (s *Service) Dispatch(ctx context.Context, job Job, exchange string) error {
	if err := validateTarget(exchange, job.RoutingKey()); err != nil {
		return err
	}

	body, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.Name, err)
	}

	if err := s.publish(ctx, exchange, job.RoutingKey(), body, ""); err != nil {
		return err
	}

	s.metrics.incDispatched(exchange)
	s.logger.Debug("Job dispatched",
		slog.String("job_name", job.Name),
		slog.String("exchange", exchange),
		slog.String("routing_key", job.RoutingKey()),
	)

	return nil
}

// Consume sets prefetch to 1 and registers one manual-ack consumer on queue.
// Deliveries are passed to handler one at a time until ctx is canceled or
// the broker closes the delivery stream. The returned channel is used to
// ack or nack.
func (s *Service) Consume(ctx context.Context, queue string, handler Handler) (rabbitmq.Channel, error) {
	if err := domain.RequireName("queue name", queue); err != nil {
		return nil, err
	}

	ch, err := s.acquire()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	); err != nil {
		s.releaseClosed(ch, err)
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	consumerTag := "jobqueue-" + uuid.NewString()
	deliveries, err := ch.Consume(
		queue,       // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	s.logger.Info("Consumer started",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	s.wg.Add(1)
	go s.dispatchDeliveries(ctx, queue, deliveries, handler)

	return ch, nil
}

func (s *Service) dispatchDeliveries(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Consumer stopped - context canceled", slog.String("queue", queue))
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("Delivery channel closed", slog.String("queue", queue))
				return
			}
			handler(ctx, delivery)
		}
	}
}

// Wait blocks until every consumer loop started by Consume has returned
func (s *Service) Wait() {
	s.wg.Wait()
}

// Retry republishes job with its retry counter incremented and a per-message
// expiration of Strategy.RetryInterval. extra is merged into the new
// metadata. Target the wait exchange so the message reappears on the main
// exchange once it expires.
func (s *Service) Retry(ctx context.Context, job Job, exchange string, extra Metadata) error {
	if err := validateTarget(exchange, job.RoutingKey()); err != nil {
		return err
	}

	next := job.WithRetry(extra)

	body, err := next.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.Name, err)
	}

	expiration := strconv.FormatInt(max(job.Strategy.RetryInterval.Milliseconds(), 0), 10)
	if err := s.publish(ctx, exchange, job.RoutingKey(), body, expiration); err != nil {
		return err
	}

	s.metrics.incRetried(exchange)
	s.logger.Info("Job scheduled for retry",
		slog.String("job_name", job.Name),
		slog.String("exchange", exchange),
		slog.Int("retries", next.Retries()),
		slog.String("expiration_ms", expiration),
	)

	return nil
}

// Fail distributes one FailedJobEvent for job on ChannelFailed. The job is
// not republished.
func (s *Service) Fail(ctx context.Context, job Job, metadata Metadata) error {
	event := NewFailedJobEvent(job, metadata)

	if err := s.eventBus.Distribute(ctx, ChannelFailed, event); err != nil {
		return fmt.Errorf("failed to distribute failed job event: %w", err)
	}

	s.metrics.incFailed(job.Name)
	s.logger.Warn("Job failed permanently",
		slog.String("job_name", job.Name),
		slog.String("event_id", event.ID.String()),
		slog.Int("retries", job.Retries()),
	)

	return nil
}

// Close releases the channel. The next operation opens a new one.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return nil
	}

	err := s.channel.Close()
	s.channel = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close channel: %w", err)
	}

	return nil
}

func (s *Service) publish(ctx context.Context, exchange, routingKey string, body []byte, expiration string) error {
	ch, err := s.acquire()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  ContentType,
			DeliveryMode: amqp.Persistent,
			Expiration:   expiration,
			Body:         body,
		},
	)
	if err != nil {
		s.releaseClosed(ch, err)
		return fmt.Errorf("failed to publish to %s: %w", exchange, err)
	}

	return nil
}

// releaseClosed forgets ch when the broker has closed it, so the next
// operation opens a fresh channel
func (s *Service) releaseClosed(ch rabbitmq.Channel, err error) {
	if !errors.Is(err, amqp.ErrClosed) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != ch {
		return
	}
	s.channel = nil

	s.logger.Warn("Channel closed by broker, reopening on next use",
		slog.String("error", err.Error()),
	)
}

func validateTarget(exchange, routingKey string) error {
	if err := domain.RequireName("exchange name", exchange); err != nil {
		return err
	}
	return domain.RequireName("routing key", routingKey)
}
