package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"membank-backend/application/services"
	"membank-backend/domain/memory"
	"membank-backend/pkg/common"
	apperrors "membank-backend/pkg/errors"
	"membank-backend/pkg/utils"
)

// ExtractRequest is the body of POST /extract
type ExtractRequest struct {
	UserID         string                 `json:"user_id" validate:"required"`
	ConversationID string                 `json:"conversation_id"`
	Conversation   []memory.Turn          `json:"conversation" validate:"required,min=1,max=100"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ExtractionHandler serves job creation and status polling
type ExtractionHandler struct {
	jobs   *services.JobManager
	logger *zap.Logger
}

// NewExtractionHandler creates the handler
func NewExtractionHandler(jobs *services.JobManager, logger *zap.Logger) *ExtractionHandler {
	return &ExtractionHandler{jobs: jobs, logger: logger}
}

// Extract accepts a conversation and returns the queued job. The call
// succeeds even when the broker is down: the job is persisted pending.
func (h *ExtractionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondError(w, apperrors.NewValidationError("request body is not valid JSON"))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	created, err := h.jobs.CreateExtractionJob(r.Context(), services.ExtractionRequest{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Conversation:   req.Conversation,
		Metadata:       req.Metadata,
	})
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusAccepted, created)
}

// JobStatus returns the current state of a job
func (h *ExtractionHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !utils.ValidateUUID(jobID) {
		common.RespondError(w, apperrors.NewValidationError("job id must be a UUID"))
		return
	}

	j, err := h.jobs.GetJobStatus(r.Context(), jobID)
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, j)
}
