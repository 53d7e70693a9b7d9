package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/rabbit-jobqueue/internal/bootstrap"
	"github.com/cuongbtq/rabbit-jobqueue/internal/config"
	"github.com/cuongbtq/rabbit-jobqueue/internal/migration"
	"github.com/cuongbtq/rabbit-jobqueue/internal/topology"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
)

const serviceName = "jobqueue-migrate-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootstrap.LoadEnv()

	configPath := bootstrap.ConfigFlag(flag.CommandLine, "MIGRATE_SERVICE_CONFIG_PATH", "configs/migrate-service/config.yaml")
	target := flag.Int("target", 0, "Apply migrations up to this version (0 applies all)")
	statusOnly := flag.Bool("status", false, "Print applied and pending migrations without applying")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateMigrateConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	builder := topology.NewBuilder(rabbitClient, appLogger.Logger)

	store, err := versionstore.New(rabbitClient, versionstore.Config{
		Exchange: cfg.VersionStore.Exchange,
		VHost:    cfg.VersionStore.VHost,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize version store: %w", err)
	}

	// the catalog must exist before its bindings can be read
	if err := builder.DeclareVersionCatalog(ctx, store.Exchange()); err != nil {
		return fmt.Errorf("failed to declare version catalog: %w", err)
	}

	runner, err := migration.NewRunner(builder, store, migration.Config{
		Identifier: cfg.Migrations.Identifier,
		Migrations: cfg.Migrations.List,
		Logger:     appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if *statusOnly {
		return printStatus(ctx, runner, appLogger.Logger)
	}

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()

		// creates failed_jobs
		if _, _, err := bootstrap.NewEventBus(ctx, dbClient, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to prepare failed job storage: %w", err)
		}
	}

	done, err := runner.Run(ctx, *target)
	for _, m := range done {
		appLogger.Info("Migration applied",
			slog.Int("version", m.Version),
			slog.String("name", m.Name),
		)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func printStatus(ctx context.Context, runner *migration.Runner, logger *slog.Logger) error {
	applied, pending, err := runner.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	for _, v := range applied.Versions {
		logger.Info("Applied",
			slog.Int("version", v.Version),
			slog.String("target_name", v.TargetName),
			slog.Time("created_date", v.CreatedDate),
		)
	}
	for _, m := range pending {
		logger.Info("Pending",
			slog.Int("version", m.Version),
			slog.String("name", m.Name),
		)
	}

	return nil
}
