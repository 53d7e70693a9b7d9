// Package bootstrap builds the shared clients of the service binaries from
// configuration.
package bootstrap

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/config"
	"github.com/cuongbtq/rabbit-jobqueue/internal/failed"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/shared/logger"
	"github.com/cuongbtq/rabbit-jobqueue/shared/postgresql"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	"github.com/joho/godotenv"
)

// LoadEnv loads .env if it exists
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}
}

// ConfigFlag registers -config on fs. The default comes from envVar, then
// fallback.
func ConfigFlag(fs *flag.FlagSet, envVar, fallback string) *string {
	defaultConfigPath := os.Getenv(envVar)
	if defaultConfigPath == "" {
		defaultConfigPath = fallback
	}
	return fs.String("config", defaultConfigPath, "Path to configuration file")
}

// InitLogger initializes the application logger; service tags every record
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client. It returns nil
// when the database is disabled.
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	if !cfg.Enabled {
		logger.Info("Database disabled, failed jobs are only logged")
		return nil, nil
	}

	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		VHost:         cfg.VHost,
		ManagementURL: cfg.ManagementURL,
		AdminTimeout:  cfg.AdminTimeout,
		RetryAttempts: cfg.Connection.RetryAttempts,
		RetryInterval: cfg.Connection.RetryInterval,
		Heartbeat:     cfg.Connection.Heartbeat,
	}, logger)
}

// NewEventBus returns the failure sink: the failed_jobs table when a database
// is available, the log otherwise
func NewEventBus(ctx context.Context, db *postgresql.Client, logger *slog.Logger) (job.EventBus, *failed.Store, error) {
	if db == nil {
		return failed.NewLogBus(logger), nil, nil
	}

	store := failed.NewStore(db.GetDB(), logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	return store, store, nil
}
