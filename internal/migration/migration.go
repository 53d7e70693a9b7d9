// Package migration applies versioned broker topology changes and records
// each applied version in the version store.
package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
	"github.com/go-playground/validator/v10"
)

// QueueBinding declares a queue bound to an exchange
type QueueBinding struct {
	Exchange   string `yaml:"exchange" json:"exchange" validate:"required"`
	Queue      string `yaml:"queue" json:"queue" validate:"required"`
	RoutingKey string `yaml:"routing_key" json:"routing_key" validate:"required"`
}

// Migration is one versioned topology step. Within a step, version catalogs
// are declared first, then pipelines, then queues.
type Migration struct {
	Version         int            `yaml:"version" json:"version" validate:"gt=0"`
	Name            string         `yaml:"name" json:"name" validate:"required"`
	VersionCatalogs []string       `yaml:"version_catalogs" json:"version_catalogs,omitempty" validate:"dive,required"`
	Pipelines       []string       `yaml:"pipelines" json:"pipelines,omitempty" validate:"dive,required"`
	Queues          []QueueBinding `yaml:"queues" json:"queues,omitempty" validate:"dive"`
}

// Topology is the subset of topology.Builder used by migrations
type Topology interface {
	DeclareVersionCatalog(ctx context.Context, exchange string) error
	BuildPipeline(ctx context.Context, exchange string) error
	DeclareQueue(ctx context.Context, exchange, queue, routingKey string) error
}

// VersionStore is the subset of versionstore.Store used by migrations
type VersionStore interface {
	Read(ctx context.Context, identifier string) (versionstore.StructureVersionList, error)
	Write(ctx context.Context, list versionstore.StructureVersionList) error
}

// Config holds the runner settings
type Config struct {
	// Identifier names the version list and is the target_name of every record
	Identifier string
	Migrations []Migration
	Logger     *slog.Logger
}

// Runner applies pending migrations in version order
type Runner struct {
	topology   Topology
	store      VersionStore
	identifier string
	migrations []Migration
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner validates the migrations and returns a Runner
func NewRunner(topology Topology, store VersionStore, cfg Config) (*Runner, error) {
	if err := domain.RequireName("migration identifier", cfg.Identifier); err != nil {
		return nil, err
	}

	validate := validator.New()
	seen := make(map[int]string, len(cfg.Migrations))
	for _, m := range cfg.Migrations {
		if err := validate.Struct(m); err != nil {
			return nil, domain.Configurationf("invalid migration %d (%s): %v", m.Version, m.Name, err)
		}
		if other, dup := seen[m.Version]; dup {
			return nil, domain.Configurationf("migration version %d is used by both %q and %q", m.Version, other, m.Name)
		}
		seen[m.Version] = m.Name
	}

	migrations := slices.Clone(cfg.Migrations)
	slices.SortFunc(migrations, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		topology:   topology,
		store:      store,
		identifier: cfg.Identifier,
		migrations: migrations,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Status returns the recorded versions and the migrations not yet applied
func (r *Runner) Status(ctx context.Context) (versionstore.StructureVersionList, []Migration, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return versionstore.StructureVersionList{}, nil, err
	}

	return applied, r.pending(applied, 0), nil
}

// Run applies every migration newer than the latest recorded version, up to
// and including target. A target of 0 applies everything. The version list is
// written after each step so a failure keeps the progress made so far.
func (r *Runner) Run(ctx context.Context, target int) ([]Migration, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	pending := r.pending(applied, target)
	if len(pending) == 0 {
		r.logger.Info("No pending migrations", slog.String("identifier", r.identifier))
		return nil, nil
	}

	done := make([]Migration, 0, len(pending))
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		r.logger.Info("Applying migration",
			slog.String("identifier", r.identifier),
			slog.Int("version", m.Version),
			slog.String("name", m.Name),
		)

		if err := r.apply(ctx, m); err != nil {
			return done, fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		applied.Push(versionstore.StructureVersion{
			TargetName:  r.identifier,
			Version:     m.Version,
			CreatedDate: r.now(),
		})
		if err := r.store.Write(ctx, applied); err != nil {
			return done, fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		done = append(done, m)
	}

	r.logger.Info("Migrations applied",
		slog.String("identifier", r.identifier),
		slog.Int("count", len(done)),
	)

	return done, nil
}

func (r *Runner) applied(ctx context.Context) (versionstore.StructureVersionList, error) {
	list, err := r.store.Read(ctx, r.identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return versionstore.NewList(r.identifier), nil
	}
	if err != nil {
		return versionstore.StructureVersionList{}, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	return list, nil
}

func (r *Runner) pending(applied versionstore.StructureVersionList, target int) []Migration {
	latest := 0
	if v, ok := applied.Latest(); ok {
		latest = v.Version
	}

	var pending []Migration
	for _, m := range r.migrations {
		if m.Version <= latest {
			continue
		}
		if target > 0 && m.Version > target {
			break
		}
		pending = append(pending, m)
	}
	return pending
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	for _, exchange := range m.VersionCatalogs {
		if err := r.topology.DeclareVersionCatalog(ctx, exchange); err != nil {
			return err
		}
	}

	for _, exchange := range m.Pipelines {
		if err := r.topology.BuildPipeline(ctx, exchange); err != nil {
			return err
		}
	}

	for _, q := range m.Queues {
		if err := r.topology.DeclareQueue(ctx, q.Exchange, q.Queue, q.RoutingKey); err != nil {
			return err
		}
	}

	return nil
}
