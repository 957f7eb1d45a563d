package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job. Non-terminal step statuses
// share their name with the step currently executing.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// StatusForStep returns the status a job carries while the given step runs.
func StatusForStep(step Step) Status {
	return Status(step)
}

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusReady, StatusFailed, StatusDeadLettered:
		return true
	default:
		return Step(s).Valid()
	}
}

// Terminal reports whether the status is absorbing. Terminal jobs are never
// claimed again.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusDeadLettered
}

// Job represents one production run.
//
// A job is created by admission with status queued and credits already
// reserved, then mutated exclusively by the worker holding its lease.
// CreditsFinal is set at most once, at terminal success or dead-letter.
type Job struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`

	Status       Status `json:"status"`
	Progress     int    `json:"progress"` // 0-100
	RetryCount   int    `json:"retry_count,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreditsReserved int64  `json:"credits_reserved"`
	CreditsFinal    *int64 `json:"credits_final,omitempty"`

	WorkerID       string     `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewJob creates a queued job for a user's project with credits already
// reserved by admission.
func NewJob(userID, projectID string, creditsReserved int64) *Job {
	now := time.Now()
	return &Job{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProjectID:       projectID,
		Status:          StatusQueued,
		CreditsReserved: creditsReserved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// EnterStep marks the job as executing the given step. Stale error fields
// from a prior failed attempt are cleared.
func (j *Job) EnterStep(step Step) {
	j.Status = StatusForStep(step)
	j.ErrorCode = ""
	j.ErrorMessage = ""
	j.NextRetryAt = nil
	j.UpdatedAt = time.Now()
}

// Fail marks the job as failed with a typed error.
func (j *Job) Fail(code, message string) {
	j.Status = StatusFailed
	j.ErrorCode = code
	j.ErrorMessage = message
	j.UpdatedAt = time.Now()
}

// ScheduleRetry makes a failed job claim-eligible again no earlier than at.
func (j *Job) ScheduleRetry(at time.Time) {
	j.NextRetryAt = &at
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
}

// Ready marks the job as successfully completed with its final cost settled.
func (j *Job) Ready(finalCost int64) {
	now := time.Now()
	j.Status = StatusReady
	j.Progress = 100
	j.ErrorCode = ""
	j.ErrorMessage = ""
	j.CreditsFinal = &finalCost
	j.FinishedAt = &now
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// DeadLetter marks the job permanently failed with its final cost settled.
func (j *Job) DeadLetter(code, reason string, finalCost int64) {
	now := time.Now()
	j.Status = StatusDeadLettered
	j.ErrorCode = code
	j.ErrorMessage = reason
	j.CreditsFinal = &finalCost
	j.FinishedAt = &now
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.NextRetryAt = nil
	j.UpdatedAt = now
}
