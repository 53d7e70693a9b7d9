// Package rabbitmqtest provides testify mocks for the rabbitmq package interfaces.
package rabbitmqtest

import (
	"context"

	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

// Channel mocks rabbitmq.Channel
type Channel struct {
	mock.Mock
}

var _ rabbitmq.Channel = (*Channel)(nil)

func (m *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func (m *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *Channel) ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error {
	return m.Called(destination, key, source, noWait, args).Error(0)
}

func (m *Channel) ExchangeUnbind(destination, key, source string, noWait bool, args amqp.Table) error {
	return m.Called(destination, key, source, noWait, args).Error(0)
}

func (m *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ret := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	deliveries, _ := ret.Get(0).(chan amqp.Delivery)
	return deliveries, ret.Error(1)
}

func (m *Channel) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *Channel) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *Channel) Close() error {
	return m.Called().Error(0)
}

// Connector mocks rabbitmq.Connector. VHost is a plain field.
type Connector struct {
	mock.Mock
	Host string
}

var _ rabbitmq.Connector = (*Connector)(nil)

func (m *Connector) Channel() (rabbitmq.Channel, error) {
	ret := m.Called()
	ch, _ := ret.Get(0).(rabbitmq.Channel)
	return ch, ret.Error(1)
}

func (m *Connector) GetFromAdminAPI(ctx context.Context, endpoint string, result any) error {
	return m.Called(ctx, endpoint, result).Error(0)
}

func (m *Connector) PutToAdminAPI(ctx context.Context, endpoint string, body any) error {
	return m.Called(ctx, endpoint, body).Error(0)
}

func (m *Connector) VHost() string {
	if m.Host == "" {
		return rabbitmq.DefaultVHost
	}
	return m.Host
}
