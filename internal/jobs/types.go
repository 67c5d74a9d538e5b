package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// JobType represents different types of background jobs.
type JobType string

const (
	// JobTypeConsistencySweep runs the periodic check described in 4.D:
	// entries left running far longer than any real work session, a signal
	// of a crashed client that never called stop.
	JobTypeConsistencySweep JobType = "consistency_sweep"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RunAt      time.Time       `json:"run_at,omitempty"`
}

// ConsistencySweepPayload carries the staleness threshold for one sweep run.
type ConsistencySweepPayload struct {
	StaleAfter time.Duration `json:"stale_after"`
}

// JobHandler is the interface for job handlers
type JobHandler interface {
	Handle(ctx context.Context, job *Job) error
}

// JobQueue is the interface for job queue operations
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context) (*Job, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, err error) error
	Schedule(ctx context.Context, job *Job, runAt time.Time) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetPendingJobs(ctx context.Context, jobType JobType) ([]*Job, error)
}
