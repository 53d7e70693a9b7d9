package topology

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ShovelDefinition is the management API body of a dynamic shovel
type ShovelDefinition struct {
	Value ShovelValue `json:"value"`
}

// ShovelValue holds the shovel parameters. An empty "amqp://" URI points at
// the broker the shovel runs on.
type ShovelValue struct {
	SrcURI            string `json:"src-uri"`
	SrcQueue          string `json:"src-queue"`
	DestURI           string `json:"dest-uri"`
	DestExchange      string `json:"dest-exchange"`
	AddForwardHeaders bool   `json:"add-forward-headers"`
	AckMode           string `json:"ack-mode"`
	DeleteAfter       string `json:"delete-after"`
}

// Builder declares exchanges, queues, bindings and shovels
type Builder struct {
	connector rabbitmq.Connector
	logger    *slog.Logger
}

// NewBuilder creates a Builder
func NewBuilder(connector rabbitmq.Connector, logger *slog.Logger) *Builder {
	return &Builder{
		connector: connector,
		logger:    logger,
	}
}

type exchangeSpec struct {
	name       string
	kind       string
	autoDelete bool
	internal   bool
	args       amqp.Table
}

type queueSpec struct {
	name     string
	exchange string
	args     amqp.Table
}

// withChannel runs fn on a fresh channel and closes it afterwards
func (b *Builder) withChannel(fn func(ch rabbitmq.Channel) error) error {
	ch, err := b.connector.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			b.logger.Warn("Failed to close topology channel",
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	return fn(ch)
}

// DeclareQueue declares a durable queue and binds it to exchange with routingKey
func (b *Builder) DeclareQueue(ctx context.Context, exchange, queue, routingKey string) error {
	if err := validateNames(
		"exchange name", exchange,
		"queue name", queue,
		"routing key", routingKey,
	); err != nil {
		return err
	}

	return b.withChannel(func(ch rabbitmq.Channel) error {
		if err := declareQueue(ch, queueSpec{name: queue}); err != nil {
			return err
		}

		if err := ch.QueueBind(
			queue,      // queue name
			routingKey, // routing key
			exchange,   // exchange
			false,      // no-wait
			nil,        // arguments
		); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", queue, exchange, err)
		}

		b.logger.Info("Queue declared",
			slog.String("exchange", exchange),
			slog.String("queue", queue),
			slog.String("routing_key", routingKey),
		)
		return nil
	})
}

// DeclareVersionCatalog declares the topic exchange used as a binding record store
func (b *Builder) DeclareVersionCatalog(ctx context.Context, exchange string) error {
	if err := domain.RequireName("exchange name", exchange); err != nil {
		return err
	}

	return b.withChannel(func(ch rabbitmq.Channel) error {
		// internal: nothing publishes here, bindings only carry records
		if err := declareExchange(ch, exchangeSpec{name: exchange, kind: amqp.ExchangeTopic, internal: true}); err != nil {
			return err
		}

		b.logger.Info("Version catalog declared", slog.String("exchange", exchange))
		return nil
	})
}

// BuildPipeline provisions the retry and unroutable-message pipeline around exchange.
//
// Messages nobody is bound for fall back to X.unrouted, age there for
// RepublishInterval, dead-letter into X.repub and are shovelled back onto X.
// Retries published to X.waiting with a per-message TTL dead-letter into X once
// the TTL expires.
func (b *Builder) BuildPipeline(ctx context.Context, exchange string) error {
	if err := domain.RequireName("exchange name", exchange); err != nil {
		return err
	}

	names := NamesFor(exchange)

	err := b.withChannel(func(ch rabbitmq.Channel) error {
		stages := []struct {
			exchange exchangeSpec
			queue    *queueSpec
		}{
			{
				exchange: exchangeSpec{name: names.UnroutedExchange, kind: amqp.ExchangeFanout, autoDelete: true, internal: true},
				queue: &queueSpec{name: names.UnroutedQueue, exchange: names.UnroutedExchange, args: amqp.Table{
					ArgMessageTTL:         int32(RepublishInterval.Milliseconds()),
					ArgDeadLetterExchange: names.RepubExchange,
				}},
			},
			{
				exchange: exchangeSpec{name: names.RepubExchange, kind: amqp.ExchangeFanout, autoDelete: true, internal: true},
				queue:    &queueSpec{name: names.RepubQueue, exchange: names.RepubExchange},
			},
			{
				// no queue TTL, retries carry their own expiration
				exchange: exchangeSpec{name: names.WaitExchange, kind: amqp.ExchangeFanout},
				queue: &queueSpec{name: names.WaitQueue, exchange: names.WaitExchange, args: amqp.Table{
					ArgDeadLetterExchange: names.Exchange,
				}},
			},
			{
				exchange: exchangeSpec{name: names.Exchange, kind: amqp.ExchangeDirect, args: amqp.Table{
					ArgAlternateExchange: names.UnroutedExchange,
				}},
			},
		}

		for _, stage := range stages {
			if err := declareExchange(ch, stage.exchange); err != nil {
				return err
			}
			if stage.queue == nil {
				continue
			}
			if err := declareQueue(ch, *stage.queue); err != nil {
				return err
			}
			// fanout exchanges ignore the routing key
			if err := ch.QueueBind(stage.queue.name, "", stage.queue.exchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %s to %s: %w", stage.queue.name, stage.queue.exchange, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := b.createShovel(ctx, names); err != nil {
		return err
	}

	b.logger.Info("Exchange pipeline built",
		slog.String("exchange", names.Exchange),
		slog.String("wait_exchange", names.WaitExchange),
		slog.String("unrouted_exchange", names.UnroutedExchange),
		slog.String("shovel", names.Shovel),
	)

	return nil
}

// createShovel registers the permanent shovel moving X.repub.q back onto X
func (b *Builder) createShovel(ctx context.Context, names Names) error {
	endpoint := fmt.Sprintf("/api/parameters/shovel/%s/%s",
		rabbitmq.EscapeSegment(b.connector.VHost()),
		rabbitmq.EscapeSegment(names.Shovel),
	)

	body := ShovelDefinition{
		Value: ShovelValue{
			SrcURI:            "amqp://",
			SrcQueue:          names.RepubQueue,
			DestURI:           "amqp://",
			DestExchange:      names.Exchange,
			AddForwardHeaders: false,
			AckMode:           "on-confirm",
			DeleteAfter:       "never",
		},
	}

	if err := b.connector.PutToAdminAPI(ctx, endpoint, body); err != nil {
		return fmt.Errorf("failed to create shovel %s: %w", names.Shovel, err)
	}

	return nil
}

func declareExchange(ch rabbitmq.Channel, spec exchangeSpec) error {
	err := ch.ExchangeDeclare(
		spec.name,       // name
		spec.kind,       // type
		true,            // durable
		spec.autoDelete, // auto-deleted
		spec.internal,   // internal
		false,           // no-wait
		spec.args,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", spec.name, err)
	}
	return nil
}

func declareQueue(ch rabbitmq.Channel, spec queueSpec) error {
	_, err := ch.QueueDeclare(
		spec.name, // name
		true,      // durable
		false,     // auto-delete
		false,     // exclusive
		false,     // no-wait
		spec.args, // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", spec.name, err)
	}
	return nil
}

// validateNames takes field/value pairs
func validateNames(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := domain.RequireName(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}
