package models

import "time"

// TimetableJobStatus tracks an asynchronous generation request.
type TimetableJobStatus string

const (
	JobStatusQueued    TimetableJobStatus = "queued"
	JobStatusRunning   TimetableJobStatus = "running"
	JobStatusSucceeded TimetableJobStatus = "succeeded"
	JobStatusFailed    TimetableJobStatus = "failed"
)

// TimetableJob is the externally visible state of a generation job.
type TimetableJob struct {
	ID         string             `json:"id"`
	SchoolID   string             `json:"school_id"`
	Status     TimetableJobStatus `json:"status"`
	Attempts   int                `json:"attempts"`
	ProposalID string             `json:"proposal_id,omitempty"`
	Error      interface{}        `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
