package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by the job queue packages
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error
	ExchangeUnbind(destination, key, source string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Connector owns the broker connection and the management API
type Connector interface {
	// Channel opens a new channel on the shared connection
	Channel() (Channel, error)

	// GetFromAdminAPI decodes the JSON response of a management GET into result
	GetFromAdminAPI(ctx context.Context, endpoint string, result any) error

	// PutToAdminAPI sends body as JSON to a management endpoint
	PutToAdminAPI(ctx context.Context, endpoint string, body any) error

	// VHost returns the virtual host the connector is bound to
	VHost() string
}
