package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/rabbit-jobqueue/internal/failed"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher publishes jobs. Satisfied by *job.Service.
type Dispatcher interface {
	Dispatch(ctx context.Context, j job.Job, exchange string) error
}

// VersionReader reads version records. Satisfied by *versionstore.Store.
type VersionReader interface {
	Read(ctx context.Context, identifier string) (versionstore.StructureVersionList, error)
	ReadAll(ctx context.Context) ([]versionstore.StructureVersionList, error)
}

// FailureReader reads recorded failures. Satisfied by *failed.Store.
type FailureReader interface {
	List(ctx context.Context, filter failed.Filter) ([]failed.Record, *failed.Cursor, error)
	Get(ctx context.Context, eventID uuid.UUID) (failed.Record, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Factory    *job.Factory
	Dispatcher Dispatcher
	Versions   VersionReader

	// Failures is nil when no database is configured
	Failures FailureReader

	// Broker reports the connection status, "working" or "failing"
	Broker interface{ Status() string }

	// Database is checked by /health when set
	Database interface {
		HealthCheck(ctx context.Context) error
	}

	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
}

// JobHandler handles job dispatch requests
type JobHandler struct {
	logger     *slog.Logger
	factory    *job.Factory
	dispatcher Dispatcher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		factory:    deps.Factory,
		dispatcher: deps.Dispatcher,
	}
}

// VersionHandler exposes the version record store
type VersionHandler struct {
	logger   *slog.Logger
	versions VersionReader
}

// NewVersionHandler creates a new VersionHandler instance
func NewVersionHandler(deps *Dependencies) *VersionHandler {
	return &VersionHandler{
		logger:   deps.Logger,
		versions: deps.Versions,
	}
}

// FailedJobHandler exposes recorded job failures
type FailedJobHandler struct {
	logger   *slog.Logger
	failures FailureReader
}

// NewFailedJobHandler creates a new FailedJobHandler instance
func NewFailedJobHandler(deps *Dependencies) *FailedJobHandler {
	return &FailedJobHandler{
		logger:   deps.Logger,
		failures: deps.Failures,
	}
}
