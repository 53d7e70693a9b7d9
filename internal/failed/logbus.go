package failed

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
)

// LogBus only logs failure events. Used when no database is configured.
type LogBus struct {
	logger *slog.Logger
}

var _ job.EventBus = (*LogBus)(nil)

// NewLogBus creates a LogBus
func NewLogBus(logger *slog.Logger) *LogBus {
	return &LogBus{logger: logger}
}

// Distribute logs the event at error level
func (b *LogBus) Distribute(ctx context.Context, channel string, event job.FailedJobEvent) error {
	b.logger.LogAttrs(ctx, slog.LevelError, "Job failed",
		slog.String("channel", channel),
		slog.String("event_id", event.ID.String()),
		slog.Time("iso_date", event.IsoDate),
		slog.String("job_name", event.JobName()),
		slog.Any("failed_job_state", event.FailedJobState),
		slog.Any("metadata", event.Metadata),
	)
	return nil
}
