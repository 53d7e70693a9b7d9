package job

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"
)

// Metadata keys carried inside every job message
const (
	MetadataKey     = "metadata"
	MetadataJobName = "job_name"
	MetadataRetries = "retries"
)

// Metadata is the bookkeeping part of a job message
type Metadata map[string]any

// JobName returns the job_name entry or an empty string
func (m Metadata) JobName() string {
	name, _ := m[MetadataJobName].(string)
	return name
}

// Retries returns how often the job has been retried so far.
// Values decoded from JSON arrive as float64 or json.Number.
func (m Metadata) Retries() int {
	switch v := m[MetadataRetries].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Clone returns a shallow copy; nil stays nil
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Settings holds the per-job publish settings and handler options
type Settings struct {
	RoutingKey string
	Options    map[string]string
}

// Option returns a handler option or an empty string
func (s Settings) Option(key string) string {
	return s.Options[key]
}

// Strategy decides when a job is retried and when it fails for good
type Strategy struct {
	RetryInterval time.Duration
	MaxRetries    int
}

// Job is a unit of work travelling through the queue. It is a plain value:
// the service never keeps a reference to it past a call.
type Job struct {
	Name     string
	State    map[string]any
	Metadata Metadata
	Settings Settings
	Strategy Strategy
}

// RoutingKey returns the routing key the job is published with
func (j Job) RoutingKey() string {
	return j.Settings.RoutingKey
}

// ToValue returns the message value: the state plus a "metadata" entry
// when the job carries any metadata
func (j Job) ToValue() map[string]any {
	value := make(map[string]any, len(j.State)+1)
	maps.Copy(value, j.State)

	if len(j.Metadata) > 0 {
		value[MetadataKey] = map[string]any(j.Metadata.Clone())
	} else {
		delete(value, MetadataKey)
	}

	return value
}

// Retries returns the number of retries recorded in the metadata
func (j Job) Retries() int {
	return j.Metadata.Retries()
}

// CanRetry reports whether the strategy allows another retry
func (j Job) CanRetry() bool {
	return j.Retries() < j.Strategy.MaxRetries
}

// WithRetry returns a copy of the job whose metadata carries the next retry
// count merged with extra. The receiver is left untouched.
func (j Job) WithRetry(extra Metadata) Job {
	next := j
	next.State = maps.Clone(j.State)

	metadata := make(Metadata, len(j.Metadata)+len(extra)+1)
	maps.Copy(metadata, j.Metadata)
	maps.Copy(metadata, extra)
	metadata[MetadataRetries] = j.Retries() + 1
	next.Metadata = metadata

	return next
}

// Encode serializes the job value to a message body
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j.ToValue())
}

// SplitValue separates a decoded message value into state and metadata
func SplitValue(value map[string]any) (map[string]any, Metadata) {
	state := make(map[string]any, len(value))
	var metadata Metadata

	for k, v := range value {
		if k != MetadataKey {
			state[k] = v
			continue
		}
		if m, ok := v.(map[string]any); ok {
			metadata = Metadata(m)
		}
	}

	return state, metadata
}
