package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/job"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// ExtractionRequest is a conversation submitted for asynchronous fact
// extraction.
type ExtractionRequest struct {
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id"`
	Conversation   []memory.Turn          `json:"conversation"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the request before a job is allocated
func (r ExtractionRequest) Validate() error {
	if r.UserID == "" {
		return apperrors.NewValidationError("user id must not be empty")
	}
	if len(r.Conversation) == 0 {
		return apperrors.NewValidationError("conversation must not be empty")
	}
	for _, turn := range r.Conversation {
		switch turn.Role {
		case "user", "assistant", "system":
		default:
			return apperrors.NewValidationError("unknown conversation role: " + turn.Role)
		}
		if turn.Content == "" {
			return apperrors.NewValidationError("conversation turns must not be empty")
		}
	}
	return nil
}

// extractionMessage is the queue payload linking a job to its conversation
type extractionMessage struct {
	JobID          string                 `json:"job_id"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id"`
	Conversation   []memory.Turn          `json:"conversation"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// JobManager owns the extraction job lifecycle: creation, enqueueing and
// status tracking.
type JobManager struct {
	store     ports.MetadataStore
	queue     ports.MessageQueue
	queueName string
	logger    *zap.Logger
}

// NewJobManager creates the manager
func NewJobManager(store ports.MetadataStore, queue ports.MessageQueue, queueName string, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobManager{store: store, queue: queue, queueName: queueName, logger: logger}
}

// CreateExtractionJob persists a pending job and publishes it to the work
// queue. A publish failure is tolerated: the job stays pending for an
// external reconciler, and the create call still succeeds.
func (m *JobManager) CreateExtractionJob(ctx context.Context, req ExtractionRequest) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j, err := job.New(req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	m.logger.Info("created extraction job", zap.String("job_id", j.ID), zap.String("user_id", j.UserID))

	payload, err := json.Marshal(extractionMessage{
		JobID:          j.ID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Conversation:   req.Conversation,
		Metadata:       req.Metadata,
	})
	if err != nil {
		m.logger.Error("failed to marshal extraction message", zap.String("job_id", j.ID), zap.Error(err))
		return j, nil
	}

	if err := m.queue.Publish(ctx, m.queueName, payload); err != nil {
		m.logger.Warn("job created but not enqueued; it stays pending until a reconciler picks it up",
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
	}
	return j, nil
}

// GetJobStatus returns the job or a NotFound error
func (m *JobManager) GetJobStatus(ctx context.Context, jobID string) (*job.Job, error) {
	return m.store.JobByID(ctx, jobID)
}

// UpdateJobStatus applies a monotonic status update. Transitions out of a
// terminal state are rejected.
func (m *JobManager) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status job.Status,
	progress int,
	step string,
	data map[string]interface{},
	errMsg string,
) (*job.Job, error) {
	j, err := m.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch status {
	case job.StatusCompleted:
		if err := j.MarkCompleted(data); err != nil {
			return nil, err
		}
	case job.StatusFailed:
		if err := j.MarkFailed(errMsg); err != nil {
			return nil, err
		}
	default:
		if err := j.Transition(status); err != nil {
			return nil, err
		}
		if progress >= 0 {
			j.SetProgress(progress)
		}
		if step != "" {
			j.CurrentStep = step
		}
		if data != nil {
			j.Data = data
		}
	}

	if err := m.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	m.logger.Info("updated job status",
		zap.String("job_id", jobID),
		zap.String("status", string(j.Status)),
	)
	return j, nil
}
