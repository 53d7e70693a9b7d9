package job

import (
	"maps"
	"slices"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Definition is the configuration of one job type
type Definition struct {
	Exchange   string             `yaml:"exchange" json:"exchange" validate:"required"`
	Queue      string             `yaml:"queue" json:"queue" validate:"required"`
	RoutingKey string             `yaml:"routing_key" json:"routing_key" validate:"required"`
	Handler    string             `yaml:"handler" json:"handler" validate:"required"`
	Settings   map[string]string  `yaml:"settings" json:"settings,omitempty"`
	Strategy   StrategyDefinition `yaml:"strategy" json:"strategy"`
}

// StrategyDefinition configures retries for a job type
type StrategyDefinition struct {
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval" validate:"gt=0"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
}

// JobMap maps job names to their definitions
type JobMap map[string]Definition

// Factory builds Job values from configured definitions
type Factory struct {
	jobs JobMap
}

// NewFactory validates every definition and returns a Factory over them
func NewFactory(jobs JobMap) (*Factory, error) {
	validate := validator.New()

	for _, name := range slices.Sorted(maps.Keys(jobs)) {
		if err := validate.Struct(jobs[name]); err != nil {
			return nil, domain.Configurationf("invalid definition for job %q: %v", name, err)
		}
	}

	return &Factory{jobs: maps.Clone(jobs)}, nil
}

// JobMap returns a copy of the configured definitions
func (f *Factory) JobMap() JobMap {
	return maps.Clone(f.jobs)
}

// Get returns the definition of the named job
func (f *Factory) Get(name string) (Definition, error) {
	def, ok := f.jobs[name]
	if !ok {
		return Definition{}, domain.Configurationf("configuration for job %q was not found", name)
	}
	return def, nil
}

// CreateJob rebuilds a job from a decoded message value. The job name is
// taken from metadata.job_name.
func (f *Factory) CreateJob(value map[string]any) (Job, error) {
	state, metadata := SplitValue(value)

	name := metadata.JobName()
	if name == "" {
		return Job{}, domain.Configurationf("unable to get job name from metadata")
	}

	def, err := f.Get(name)
	if err != nil {
		return Job{}, err
	}

	return newJob(name, def, state, metadata), nil
}

// New creates a fresh job of the named type with no retries recorded
func (f *Factory) New(name string, state map[string]any) (Job, error) {
	def, err := f.Get(name)
	if err != nil {
		return Job{}, err
	}

	return newJob(name, def, maps.Clone(state), Metadata{MetadataJobName: name}), nil
}

func newJob(name string, def Definition, state map[string]any, metadata Metadata) Job {
	if state == nil {
		state = map[string]any{}
	}
	// metadata is owned by the job, never by the caller's map
	delete(state, MetadataKey)

	return Job{
		Name:     name,
		State:    state,
		Metadata: metadata,
		Settings: Settings{
			RoutingKey: def.RoutingKey,
			Options:    maps.Clone(def.Settings),
		},
		Strategy: Strategy{
			RetryInterval: def.Strategy.RetryInterval,
			MaxRetries:    def.Strategy.MaxRetries,
		},
	}
}
