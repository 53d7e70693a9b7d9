package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/rabbit-jobqueue/internal/api/handler"
	"github.com/cuongbtq/rabbit-jobqueue/internal/api/router"
	"github.com/cuongbtq/rabbit-jobqueue/internal/bootstrap"
	"github.com/cuongbtq/rabbit-jobqueue/internal/config"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "jobqueue-api-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootstrap.LoadEnv()

	configPath := bootstrap.ConfigFlag(flag.CommandLine, "API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	eventBus, failedStore, err := bootstrap.NewEventBus(context.Background(), dbClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize failed job storage: %w", err)
	}

	factory, err := job.NewFactory(cfg.Jobs)
	if err != nil {
		return fmt.Errorf("failed to load job definitions: %w", err)
	}

	versions, err := versionstore.New(rabbitClient, versionstore.Config{
		Exchange: cfg.VersionStore.Exchange,
		VHost:    cfg.VersionStore.VHost,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize version store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher := job.NewService(job.Config{
		Connector: rabbitClient,
		EventBus:  eventBus,
		Metrics:   job.NewMetrics(registry),
		Logger:    appLogger.Logger,
	})
	defer dispatcher.Close()

	deps := &handler.Dependencies{
		Logger:     appLogger.Logger,
		Factory:    factory,
		Dispatcher: dispatcher,
		Versions:   versions,
		Broker:     rabbitClient,
		Gatherer:   registry,
	}
	if failedStore != nil {
		deps.Failures = failedStore
	}
	if dbClient != nil {
		deps.Database = dbClient
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down server...",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
