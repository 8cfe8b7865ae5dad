// Package job models the lifecycle of asynchronous extraction jobs.
package job

import (
	"time"

	"github.com/google/uuid"

	apperrors "membank-backend/pkg/errors"
)

// Status is the job lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for monotonicity checks; both terminal states
// share the highest rank.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// IsTerminal reports whether a status permits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle state
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Job tracks one asynchronous extraction request
type Job struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id"`
	Status         Status                 `json:"status"`
	Progress       int                    `json:"progress"`
	CurrentStep    string                 `json:"current_step"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// New creates a pending job for a conversation
func New(userID, conversationID string) (*Job, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("user id must not be empty")
	}
	return &Job{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: conversationID,
		Status:         StatusPending,
		Progress:       0,
		CurrentStep:    "Queued for processing",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Transition moves the job to a new status, enforcing the monotonic order
// pending < processing < {completed, failed}. Transitions out of a terminal
// state are rejected.
func (j *Job) Transition(next Status) error {
	if !next.Valid() {
		return apperrors.NewValidationError("unknown job status: " + string(next))
	}
	if j.Status.IsTerminal() {
		return apperrors.NewValidationError("job is already in terminal state " + string(j.Status))
	}
	if statusRank[next] < statusRank[j.Status] {
		return apperrors.NewValidationError("job status cannot move backwards from " + string(j.Status) + " to " + string(next))
	}

	j.Status = next
	if next.IsTerminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

// SetProgress clamps and records extraction progress
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
}

// MarkCompleted finalises the job with result data
func (j *Job) MarkCompleted(data map[string]interface{}) error {
	if err := j.Transition(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.CurrentStep = "Completed"
	if data != nil {
		j.Data = data
	}
	return nil
}

// MarkFailed finalises the job with an error message
func (j *Job) MarkFailed(message string) error {
	if err := j.Transition(StatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	j.Error = message
	return nil
}
