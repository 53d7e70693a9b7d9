package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/internal/migration"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Jobs         job.JobMap         `yaml:"jobs"`
	VersionStore VersionStoreConfig `yaml:"version_store"`
	Migrations   MigrationsConfig   `yaml:"migrations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration. When disabled,
// failed jobs are only logged.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds broker and management API configuration
type RabbitMQConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	ManagementURL string           `yaml:"management_url"`
	AdminTimeout  time.Duration    `yaml:"admin_timeout"`
	Connection    ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Queue           string        `yaml:"queue"`
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WebhookTimeout  time.Duration `yaml:"webhook_timeout"`
}

// VersionStoreConfig names the exchange whose bindings hold version records
type VersionStoreConfig struct {
	Exchange string `yaml:"exchange"`
	VHost    string `yaml:"vhost"`
}

// MigrationsConfig holds the topology migrations and the identifier their
// applied versions are recorded under
type MigrationsConfig struct {
	Identifier string                `yaml:"identifier"`
	List       []migration.Migration `yaml:"list"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment first.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be greater than 0")
	}

	return errors.Join(
		c.validateRabbitMQ(),
		c.validateDatabase(),
		c.validateJobs(),
		c.validateVersionStore(),
	)
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.WebhookTimeout <= 0 {
		return fmt.Errorf("worker webhook_timeout must be greater than 0")
	}

	if c.Worker.Queue == "" {
		return fmt.Errorf("worker queue is required")
	}

	if err := errors.Join(c.validateRabbitMQ(), c.validateDatabase(), c.validateJobs()); err != nil {
		return err
	}

	if !slices.Contains(c.JobQueues(), c.Worker.Queue) {
		return fmt.Errorf("worker queue %q is not used by any job", c.Worker.Queue)
	}

	return nil
}

// ValidateMigrateConfig checks the settings the migrate service needs
func (c *Config) ValidateMigrateConfig() error {
	if c.Migrations.Identifier == "" {
		return fmt.Errorf("migrations identifier is required")
	}

	if len(c.Migrations.List) == 0 {
		return fmt.Errorf("at least one migration is required")
	}

	return errors.Join(c.validateRabbitMQ(), c.validateDatabase(), c.validateVersionStore())
}

// JobQueues returns the distinct queues of the configured jobs in sorted order
func (c *Config) JobQueues() []string {
	var queues []string
	for _, def := range c.Jobs {
		if !slices.Contains(queues, def.Queue) {
			queues = append(queues, def.Queue)
		}
	}
	slices.Sort(queues)
	return queues
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.User == "" || c.RabbitMQ.Password == "" {
		return fmt.Errorf("rabbitmq user and password are required")
	}

	if c.RabbitMQ.ManagementURL == "" {
		return fmt.Errorf("rabbitmq management_url is required")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateJobs() error {
	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	return nil
}

func (c *Config) validateVersionStore() error {
	if c.VersionStore.Exchange == "" {
		return fmt.Errorf("version_store exchange is required")
	}
	return nil
}
