package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
)

// HealthHandler reports service liveness.
type HealthHandler struct {
	ping func(ctx context.Context) error
}

// NewHealthHandler creates a health handler probing the database with ping.
func NewHealthHandler(ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// Healthz handles GET /healthz
// @Summary      Health check
// @Description  Reports whether the database is reachable
// @Tags         ops
// @Produce      json
// @Success      200  {object}  model.HealthResponse
// @Failure      503  {object}  model.HealthResponse
// @Router       /healthz [get]
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.ping(ctx); err != nil {
		log.API.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, model.HealthResponse{Status: "unavailable", Database: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Database: "ok"})
}
