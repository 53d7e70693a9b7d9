package dto

import "time"

type DispatchJobRequest struct {
	JobName string         `json:"job_name" binding:"required"`
	State   map[string]any `json:"state"`
}

type DispatchJobResponse struct {
	JobName    string `json:"job_name"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

type JobDefinitionDTO struct {
	Name          string `json:"name"`
	Exchange      string `json:"exchange"`
	Queue         string `json:"queue"`
	RoutingKey    string `json:"routing_key"`
	Handler       string `json:"handler"`
	RetryInterval string `json:"retry_interval"`
	MaxRetries    int    `json:"max_retries"`
}

type ListJobDefinitionsResponse struct {
	Jobs []JobDefinitionDTO `json:"jobs"`
}

type VersionDTO struct {
	TargetName  string    `json:"target_name"`
	Version     int       `json:"version"`
	CreatedDate time.Time `json:"created_date"`
}

type VersionListDTO struct {
	Identifier string       `json:"identifier"`
	Versions   []VersionDTO `json:"versions"`
}

type ListVersionsResponse struct {
	Lists []VersionListDTO `json:"lists"`
}

type ListFailedJobsRequest struct {
	JobName  string `form:"job_name"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type FailedJobDTO struct {
	EventID        string         `json:"event_id"`
	Channel        string         `json:"channel"`
	JobName        string         `json:"job_name"`
	FailedJobState map[string]any `json:"failed_job_state"`
	Metadata       map[string]any `json:"metadata"`
	FailedAt       string         `json:"failed_at"`
}

type ListFailedJobsResponse struct {
	FailedJobs []FailedJobDTO `json:"failed_jobs"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
