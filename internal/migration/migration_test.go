package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/versionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTopology struct {
	mock.Mock
}

func (m *mockTopology) DeclareVersionCatalog(ctx context.Context, exchange string) error {
	return m.Called(ctx, exchange).Error(0)
}

func (m *mockTopology) BuildPipeline(ctx context.Context, exchange string) error {
	return m.Called(ctx, exchange).Error(0)
}

func (m *mockTopology) DeclareQueue(ctx context.Context, exchange, queue, routingKey string) error {
	return m.Called(ctx, exchange, queue, routingKey).Error(0)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Read(ctx context.Context, identifier string) (versionstore.StructureVersionList, error) {
	ret := m.Called(ctx, identifier)
	return ret.Get(0).(versionstore.StructureVersionList), ret.Error(1)
}

func (m *mockStore) Write(ctx context.Context, list versionstore.StructureVersionList) error {
	return m.Called(ctx, list).Error(0)
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testMigrations() []Migration {
	return []Migration{
		{
			Version: 2,
			Name:    "mail_queue",
			Queues:  []QueueBinding{{Exchange: "jobs", Queue: "jobs.mail", RoutingKey: "mail"}},
		},
		{
			Version:         1,
			Name:            "jobs_pipeline",
			VersionCatalogs: []string{"versions"},
			Pipelines:       []string{"jobs"},
		},
	}
}

func newTestRunner(t *testing.T, migrations []Migration) (*Runner, *mockTopology, *mockStore) {
	t.Helper()

	topology := &mockTopology{}
	store := &mockStore{}

	runner, err := NewRunner(topology, store, Config{
		Identifier: "jobqueue",
		Migrations: migrations,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	runner.now = func() time.Time { return fixedNow }

	return runner, topology, store
}

func TestNewRunner_Validation(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		migrations []Migration
		wantErr    error
		wantMsg    string
	}{
		{
			name:       "blank identifier",
			identifier: " ",
			wantErr:    domain.ErrValidation,
		},
		{
			name:       "duplicate version",
			identifier: "jobqueue",
			migrations: []Migration{{Version: 1, Name: "a"}, {Version: 1, Name: "b"}},
			wantErr:    domain.ErrConfiguration,
			wantMsg:    `migration version 1 is used by both "a" and "b"`,
		},
		{
			name:       "zero version",
			identifier: "jobqueue",
			migrations: []Migration{{Version: 0, Name: "a"}},
			wantErr:    domain.ErrConfiguration,
			wantMsg:    "invalid migration 0 (a)",
		},
		{
			name:       "incomplete queue",
			identifier: "jobqueue",
			migrations: []Migration{{Version: 1, Name: "a", Queues: []QueueBinding{{Exchange: "jobs"}}}},
			wantErr:    domain.ErrConfiguration,
			wantMsg:    "Queue",
		},
		{
			name:       "blank pipeline name",
			identifier: "jobqueue",
			migrations: []Migration{{Version: 1, Name: "a", Pipelines: []string{""}}},
			wantErr:    domain.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(&mockTopology{}, &mockStore{}, Config{
				Identifier: tt.identifier,
				Migrations: tt.migrations,
			})
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRunner_RunFromScratch(t *testing.T) {
	runner, topology, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	store.On("Read", ctx, "jobqueue").Return(versionstore.StructureVersionList{}, domain.ErrNotFound).Once()

	mock.InOrder(
		topology.On("DeclareVersionCatalog", ctx, "versions").Return(nil).Once(),
		topology.On("BuildPipeline", ctx, "jobs").Return(nil).Once(),
		store.On("Write", ctx, versionstore.NewList("jobqueue",
			versionstore.StructureVersion{TargetName: "jobqueue", Version: 1, CreatedDate: fixedNow},
		)).Return(nil).Once(),
		topology.On("DeclareQueue", ctx, "jobs", "jobs.mail", "mail").Return(nil).Once(),
		store.On("Write", ctx, versionstore.NewList("jobqueue",
			versionstore.StructureVersion{TargetName: "jobqueue", Version: 1, CreatedDate: fixedNow},
			versionstore.StructureVersion{TargetName: "jobqueue", Version: 2, CreatedDate: fixedNow},
		)).Return(nil).Once(),
	)

	done, err := runner.Run(ctx, 0)
	require.NoError(t, err)

	require.Len(t, done, 2)
	assert.Equal(t, 1, done[0].Version)
	assert.Equal(t, 2, done[1].Version)
	topology.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunner_RunSkipsApplied(t *testing.T) {
	runner, topology, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	existing := versionstore.NewList("jobqueue", versionstore.StructureVersion{TargetName: "jobqueue", Version: 1})
	store.On("Read", ctx, "jobqueue").Return(existing, nil)
	topology.On("DeclareQueue", ctx, "jobs", "jobs.mail", "mail").Return(nil).Once()
	store.On("Write", ctx, mock.MatchedBy(func(list versionstore.StructureVersionList) bool {
		return len(list.Versions) == 2 && list.Versions[1].Version == 2
	})).Return(nil).Once()

	done, err := runner.Run(ctx, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)

	topology.AssertNotCalled(t, "BuildPipeline", mock.Anything, mock.Anything)
	topology.AssertNotCalled(t, "DeclareVersionCatalog", mock.Anything, mock.Anything)
}

func TestRunner_RunUpToTarget(t *testing.T) {
	runner, topology, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	store.On("Read", ctx, "jobqueue").Return(versionstore.StructureVersionList{}, domain.ErrNotFound)
	topology.On("DeclareVersionCatalog", ctx, "versions").Return(nil)
	topology.On("BuildPipeline", ctx, "jobs").Return(nil)
	store.On("Write", ctx, mock.Anything).Return(nil).Once()

	done, err := runner.Run(ctx, 1)
	require.NoError(t, err)
	require.Len(t, done, 1)

	topology.AssertNotCalled(t, "DeclareQueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_RunNothingPending(t *testing.T) {
	runner, _, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	store.On("Read", ctx, "jobqueue").Return(versionstore.NewList("jobqueue", versionstore.StructureVersion{Version: 5}), nil)

	done, err := runner.Run(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, done)
	store.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestRunner_RunStopsOnFailure(t *testing.T) {
	runner, topology, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	store.On("Read", ctx, "jobqueue").Return(versionstore.StructureVersionList{}, domain.ErrNotFound)
	topology.On("DeclareVersionCatalog", ctx, "versions").Return(nil)
	topology.On("BuildPipeline", ctx, "jobs").Return(errors.New("access refused"))

	done, err := runner.Run(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 1 (jobs_pipeline)")
	assert.Empty(t, done)
	store.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestRunner_RunReadError(t *testing.T) {
	runner, _, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	store.On("Read", ctx, "jobqueue").Return(versionstore.StructureVersionList{}, errors.New("status 401"))

	_, err := runner.Run(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read applied migrations")
}

func TestRunner_Status(t *testing.T) {
	runner, _, store := newTestRunner(t, testMigrations())
	ctx := context.Background()

	existing := versionstore.NewList("jobqueue", versionstore.StructureVersion{Version: 1})
	store.On("Read", ctx, "jobqueue").Return(existing, nil)

	applied, pending, err := runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, existing, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, "mail_queue", pending[0].Name)
}
