// Package handlers contains the thin HTTP handlers in front of the
// application services.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/application/services"
	"membank-backend/domain/memory"
	"membank-backend/infrastructure/cache"
	"membank-backend/pkg/common"
	apperrors "membank-backend/pkg/errors"
	"membank-backend/pkg/utils"
)

// SearchRequest is the body of POST /search
type SearchRequest struct {
	UserID         string  `json:"user_id" validate:"required"`
	SessionID      string  `json:"session_id"`
	Query          string  `json:"query" validate:"required,max=500"`
	Limit          int     `json:"limit" validate:"omitempty,min=1,max=100"`
	ScoreThreshold float64 `json:"score_threshold" validate:"omitempty,min=0,max=1"`
}

// AddMessageRequest is the body of POST /memory/messages
type AddMessageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=user assistant system"`
	Content   string `json:"content" validate:"required"`
}

// MemoryHandler serves the search and memory management endpoints
type MemoryHandler struct {
	orchestrator *services.MemoryOrchestrator
	search       *services.SearchOrchestrator
	stm          *services.STMStore
	facts        ports.FactRepository
	kv           ports.KV
	logger       *zap.Logger
}

// NewMemoryHandler creates the handler
func NewMemoryHandler(
	orchestrator *services.MemoryOrchestrator,
	search *services.SearchOrchestrator,
	stm *services.STMStore,
	facts ports.FactRepository,
	kv ports.KV,
	logger *zap.Logger,
) *MemoryHandler {
	return &MemoryHandler{
		orchestrator: orchestrator,
		search:       search,
		stm:          stm,
		facts:        facts,
		kv:           kv,
		logger:       logger,
	}
}

// Search runs the parallel STM+LTM search when a session is given, or the
// plain LTM path otherwise.
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondError(w, apperrors.NewValidationError("request body is not valid JSON"))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, apperrors.NewValidationError(err.Error()))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	var (
		results []memory.SearchResult
		err     error
	)
	if req.SessionID != "" {
		results, err = h.orchestrator.Search(r.Context(), req.UserID, req.SessionID, req.Query, req.Limit)
	} else {
		results, err = h.search.Search(r.Context(), memory.SearchQuery{
			UserID:         req.UserID,
			Query:          req.Query,
			Limit:          req.Limit,
			ScoreThreshold: req.ScoreThreshold,
		})
	}
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, results)
}

// AddMessage appends a turn to a session's short-term memory
func (h *MemoryHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondError(w, apperrors.NewValidationError("request body is not valid JSON"))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	if err := h.stm.AddMessage(r.Context(), req.SessionID, req.UserID, req.Role, req.Content); err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusAccepted, map[string]string{"session_id": req.SessionID})
}

// GetContext returns the three-tier STM snapshot of a session
func (h *MemoryHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		common.RespondError(w, apperrors.NewValidationError("session id is required"))
		return
	}
	common.RespondJSON(w, http.StatusOK, h.stm.GetContext(r.Context(), sessionID))
}

// ListFacts returns a user's stored facts, newest first
func (h *MemoryHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		common.RespondError(w, apperrors.NewValidationError("user id is required"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			common.RespondError(w, apperrors.NewValidationError("limit must be in [1,1000]"))
			return
		}
		limit = parsed
	}

	facts, err := h.facts.GetByUser(r.Context(), userID, limit)
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, facts)
}

// DeleteUserFacts cascades a user deletion across all stores and
// invalidates every derived cache entry.
func (h *MemoryHandler) DeleteUserFacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		common.RespondError(w, apperrors.NewValidationError("user id is required"))
		return
	}

	if err := h.facts.DeleteByUser(r.Context(), userID); err != nil {
		common.RespondError(w, err)
		return
	}

	h.kv.BumpUserVersion(r.Context(), userID)
	h.kv.ScanDel(r.Context(), cache.UserSearchPattern(userID))
	h.kv.Del(r.Context(), cache.UserFavoriteKey(userID))

	common.RespondJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}
