package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"membank-backend/pkg/common"
)

// Pinger checks the liveness of one backing store
type Pinger func(ctx context.Context) error

// HealthHandler serves liveness and per-store readiness probes
type HealthHandler struct {
	pingers map[string]Pinger
	logger  *zap.Logger
}

// NewHealthHandler creates the handler with named store pingers
func NewHealthHandler(pingers map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{pingers: pingers, logger: logger}
}

// Live reports process liveness
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings every backing store with a short deadline
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.pingers))
	healthy := true
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			h.logger.Warn("readiness probe failed", zap.String("store", name), zap.Error(err))
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.RespondJSON(w, code, status)
}
