package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies what kind of telemetry a queued job carries
type JobType string

const (
	JobTypeRep             JobType = "rep"
	JobTypeSet             JobType = "set"
	JobTypeSessionComplete JobType = "session_complete"
	JobTypeSensorBatch     JobType = "sensor_batch"
)

// JobStatus tracks a job through the upload lifecycle
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusUploading JobStatus = "uploading"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
)

// SetNumberFinal marks a job that belongs to the session as a whole
// rather than a specific set (e.g. session_complete)
const SetNumberFinal = -1

// UploadJob is one queued unit of telemetry awaiting upload
type UploadJob struct {
	JobID       string          `json:"jobId"`
	SessionID   string          `json:"sessionId"`
	JobType     JobType         `json:"jobType"`
	SetNumber   int             `json:"setNumber"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   int64           `json:"createdAt"` // Unix timestamp in milliseconds
	Status      JobStatus       `json:"status"`
	RetryCount  int             `json:"retryCount"`
	LastAttempt *time.Time      `json:"lastAttempt,omitempty"`
}

// SetLabel renders the set-number component of job IDs and dedup keys
func SetLabel(setNumber int) string {
	if setNumber == SetNumberFinal {
		return "final"
	}
	return fmt.Sprintf("%d", setNumber)
}

// NewJobID builds the deterministic job identifier
// {sessionId}:{jobType}:{setNumber|"final"}:{createdAtMs}
func NewJobID(sessionID string, jobType JobType, setNumber int, createdAtMs int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", sessionID, jobType, SetLabel(setNumber), createdAtMs)
}

// DedupKey returns the {sessionId, jobType, setNumber} triple that identifies
// the logical event independent of retries or re-enqueues. The server-side
// deduplication is keyed on this, not on the full JobID.
func (j *UploadJob) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", j.SessionID, j.JobType, SetLabel(j.SetNumber))
}

// UploadJobRequest is the wire format sent to the telemetry backend
type UploadJobRequest struct {
	JobID     string          `json:"jobId"`
	SessionID string          `json:"sessionId"`
	JobType   JobType         `json:"jobType"`
	SetNumber string          `json:"setNumber"` // number or "final"
	MonitorID string          `json:"monitorId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"` // Unix timestamp in milliseconds
}
