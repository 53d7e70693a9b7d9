package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultVHost is used when no vhost is configured
	DefaultVHost = "/"

	// StatusWorking reports a live connection
	StatusWorking = "working"
	// StatusFailing reports a closed or missing connection
	StatusFailing = "failing"
)

var (
	// ErrMissingCredentials is returned when user or password is not configured
	ErrMissingCredentials = errors.New("rabbitmq user and password are required")

	// ErrNotConnected is returned when a channel is requested on a closed client
	ErrNotConnected = errors.New("not connected to RabbitMQ")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	ManagementURL string
	AdminTimeout  time.Duration
	RetryAttempts int
	RetryInterval time.Duration
	Heartbeat     time.Duration
}

// Validate checks the settings a connection cannot be made without
func (c *Config) Validate() error {
	if c.User == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	if c.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	return nil
}

func (c *Config) vhost() string {
	if c.VHost == "" {
		return DefaultVHost
	}
	return c.VHost
}

// Client represents a RabbitMQ client
type Client struct {
	config *Config
	logger *slog.Logger
	admin  *resty.Client

	mu   sync.RWMutex
	conn *amqp.Connection
}

var _ Connector = (*Client)(nil)

// NewClient creates a new RabbitMQ client and dials the broker
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config: config,
		logger: logger,
		admin:  newAdminClient(config),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.config.User),
		url.QueryEscape(c.config.Password),
		c.config.Host,
		c.config.Port,
		url.PathEscape(c.config.vhost()),
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("Successfully connected to RabbitMQ",
		slog.String("host", c.config.Host),
		slog.String("vhost", c.config.vhost()),
	)

	return nil
}

// Channel opens a new AMQP channel. Callers own the returned channel and must close it.
func (c *Client) Channel() (Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return ch, nil
}

// VHost returns the configured virtual host
func (c *Client) VHost() string {
	return c.config.vhost()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Error("Failed to close RabbitMQ connection",
			slog.Any("error", err),
		)
		return err
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Status reports working or failing for health endpoints
func (c *Client) Status() string {
	if c.IsConnected() {
		return StatusWorking
	}
	return StatusFailing
}
