package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChannelFailed is the event channel permanent failures are distributed on
const ChannelFailed = "events.failed"

// FailedJobEvent reports a job that will not be retried again
type FailedJobEvent struct {
	ID             uuid.UUID      `json:"uuid"`
	IsoDate        time.Time      `json:"iso_date"`
	FailedJobState map[string]any `json:"failed_job_state"`
	Metadata       Metadata       `json:"metadata"`
}

// JobName returns the name recorded in the failed state's metadata
func (e FailedJobEvent) JobName() string {
	_, metadata := SplitValue(e.FailedJobState)
	return metadata.JobName()
}

// EventBus distributes events to the subscribers of a channel
type EventBus interface {
	Distribute(ctx context.Context, channel string, event FailedJobEvent) error
}

// NewFailedJobEvent builds the failure event for job
func NewFailedJobEvent(job Job, metadata Metadata) FailedJobEvent {
	return FailedJobEvent{
		ID:             uuid.New(),
		IsoDate:        time.Now().UTC(),
		FailedJobState: job.ToValue(),
		Metadata:       metadata.Clone(),
	}
}
