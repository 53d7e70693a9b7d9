// Package failed records permanently failed jobs.
package failed

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultListLimit is used when List is called without a positive limit
	DefaultListLimit = 50
	// MaxListLimit caps a single List call
	MaxListLimit = 500
)

// Schema creates the failed_jobs table
const Schema = `
	CREATE TABLE IF NOT EXISTS failed_jobs (
		event_id         UUID PRIMARY KEY,
		channel          TEXT NOT NULL,
		job_name         TEXT NOT NULL,
		failed_job_state JSONB NOT NULL,
		metadata         JSONB NOT NULL DEFAULT '{}'::jsonb,
		failed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_failed_jobs_failed_at ON failed_jobs (failed_at DESC);
`

// JSONMap stores a map as a JSON column
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}

// Record is one row of failed_jobs
type Record struct {
	EventID        uuid.UUID `db:"event_id" json:"event_id"`
	Channel        string    `db:"channel" json:"channel"`
	JobName        string    `db:"job_name" json:"job_name"`
	FailedJobState JSONMap   `db:"failed_job_state" json:"failed_job_state"`
	Metadata       JSONMap   `db:"metadata" json:"metadata"`
	FailedAt       time.Time `db:"failed_at" json:"failed_at"`
}

// Store persists failure events in PostgreSQL. It is a job.EventBus.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ job.EventBus = (*Store)(nil)

// NewStore creates a Store
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create failed_jobs table: %w", err)
	}
	return nil
}

// Distribute inserts the event. Redelivered events with a known id are ignored.
func (s *Store) Distribute(ctx context.Context, channel string, event job.FailedJobEvent) error {
	query := `
		INSERT INTO failed_jobs (
			event_id, channel, job_name, failed_job_state, metadata, failed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		event.ID,
		channel,
		event.JobName(),
		JSONMap(event.FailedJobState),
		JSONMap(event.Metadata),
		event.IsoDate,
	)
	if err != nil {
		return fmt.Errorf("failed to store failed job event: %w", err)
	}

	s.logger.Info("Failed job recorded",
		slog.String("event_id", event.ID.String()),
		slog.String("channel", channel),
		slog.String("job_name", event.JobName()),
	)

	return nil
}

// Filter selects a page of failures
type Filter struct {
	JobName string
	Limit   int
	Cursor  *Cursor
}

// Cursor points at the last record of the previous page
type Cursor struct {
	FailedAt time.Time
	EventID  uuid.UUID
}

// List returns the most recent failures first. The returned cursor is nil on
// the last page.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, *Cursor, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	query := `
		SELECT event_id, channel, job_name, failed_job_state, metadata, failed_at
		FROM failed_jobs
		WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if filter.JobName != "" {
		query += fmt.Sprintf(" AND job_name = $%d", argIdx)
		args = append(args, filter.JobName)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (failed_at, event_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FailedAt, filter.Cursor.EventID)
		argIdx += 2
	}

	// one extra row tells whether another page exists
	query += fmt.Sprintf(" ORDER BY failed_at DESC, event_id DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	if len(records) <= limit {
		return records, nil, nil
	}

	records = records[:limit]
	last := records[limit-1]
	return records, &Cursor{FailedAt: last.FailedAt, EventID: last.EventID}, nil
}

// Get returns a single failure. domain.ErrNotFound when the id is unknown.
func (s *Store) Get(ctx context.Context, eventID uuid.UUID) (Record, error) {
	query := `
		SELECT event_id, channel, job_name, failed_job_state, metadata, failed_at
		FROM failed_jobs
		WHERE event_id = $1
	`

	var record Record
	if err := s.db.GetContext(ctx, &record, query, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: failed job %s", domain.ErrNotFound, eventID)
		}
		return Record{}, fmt.Errorf("failed to get failed job: %w", err)
	}

	return record, nil
}
