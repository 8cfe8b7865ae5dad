package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"membank-backend/application/services"
	"membank-backend/pkg/common"
	apperrors "membank-backend/pkg/errors"
)

// PrecomputeHandler exposes a manual trigger for the proactive cacher
type PrecomputeHandler struct {
	cacher *services.ProactiveCacher
	logger *zap.Logger
}

// NewPrecomputeHandler creates the handler
func NewPrecomputeHandler(cacher *services.ProactiveCacher, logger *zap.Logger) *PrecomputeHandler {
	return &PrecomputeHandler{cacher: cacher, logger: logger}
}

// PrecomputeUser refreshes the favourite summary of one user on demand
func (h *PrecomputeHandler) PrecomputeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		common.RespondError(w, apperrors.NewValidationError("user id is required"))
		return
	}

	summary, err := h.cacher.UpdateUser(r.Context(), userID)
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, summary)
}
