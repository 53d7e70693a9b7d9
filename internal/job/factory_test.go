package job

import (
	"testing"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobMap() JobMap {
	return JobMap{
		"send_mail": {
			Exchange:   "jobs",
			Queue:      "jobs.mail",
			RoutingKey: "mail",
			Handler:    "log",
			Strategy: StrategyDefinition{
				RetryInterval: 5 * time.Second,
				MaxRetries:    3,
			},
		},
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		jobs    JobMap
		wantErr string
	}{
		{
			name: "valid",
			jobs: testJobMap(),
		},
		{
			name: "empty map",
			jobs: JobMap{},
		},
		{
			name: "missing routing key",
			jobs: JobMap{"broken": {
				Exchange: "jobs", Queue: "q", Handler: "log",
				Strategy: StrategyDefinition{RetryInterval: time.Second},
			}},
			wantErr: `invalid definition for job "broken"`,
		},
		{
			name: "zero retry interval",
			jobs: JobMap{"broken": {
				Exchange: "jobs", Queue: "q", RoutingKey: "r", Handler: "log",
			}},
			wantErr: "RetryInterval",
		},
		{
			name: "negative max retries",
			jobs: JobMap{"broken": {
				Exchange: "jobs", Queue: "q", RoutingKey: "r", Handler: "log",
				Strategy: StrategyDefinition{RetryInterval: time.Second, MaxRetries: -1},
			}},
			wantErr: "MaxRetries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.jobs)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, factory)
				return
			}
			require.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, factory)
		})
	}
}

func TestFactory_Get(t *testing.T) {
	factory, err := NewFactory(testJobMap())
	require.NoError(t, err)

	def, err := factory.Get("send_mail")
	require.NoError(t, err)
	assert.Equal(t, "mail", def.RoutingKey)

	_, err = factory.Get("unknown")
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), `configuration for job "unknown" was not found`)

	assert.Equal(t, testJobMap(), factory.JobMap())
}

func TestFactory_CreateJob(t *testing.T) {
	factory, err := NewFactory(testJobMap())
	require.NoError(t, err)

	job, err := factory.CreateJob(map[string]any{
		"to": "a@b.c",
		"metadata": map[string]any{
			"job_name": "send_mail",
			"retries":  float64(1),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "send_mail", job.Name)
	assert.Equal(t, map[string]any{"to": "a@b.c"}, job.State)
	assert.Equal(t, 1, job.Retries())
	assert.Equal(t, "mail", job.RoutingKey())
	assert.Equal(t, Strategy{RetryInterval: 5 * time.Second, MaxRetries: 3}, job.Strategy)
}

func TestFactory_CreateJobErrors(t *testing.T) {
	factory, err := NewFactory(testJobMap())
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   map[string]any
		wantErr string
	}{
		{
			name:    "no metadata",
			value:   map[string]any{"to": "a@b.c"},
			wantErr: "unable to get job name from metadata",
		},
		{
			name:    "empty job name",
			value:   map[string]any{"metadata": map[string]any{"job_name": ""}},
			wantErr: "unable to get job name from metadata",
		},
		{
			name:    "unknown job",
			value:   map[string]any{"metadata": map[string]any{"job_name": "resize_image"}},
			wantErr: `configuration for job "resize_image" was not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.CreateJob(tt.value)
			require.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFactory_New(t *testing.T) {
	factory, err := NewFactory(testJobMap())
	require.NoError(t, err)

	state := map[string]any{"to": "a@b.c", "metadata": map[string]any{"retries": 9}}
	job, err := factory.New("send_mail", state)
	require.NoError(t, err)

	assert.Equal(t, Metadata{MetadataJobName: "send_mail"}, job.Metadata)
	assert.Equal(t, 0, job.Retries())
	assert.Equal(t, map[string]any{"to": "a@b.c"}, job.State)
	assert.Contains(t, state, "metadata")

	_, err = factory.New("unknown", nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
