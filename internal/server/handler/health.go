package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	stats     func() domain.CacheStats
}

// NewHealthHandler creates a HealthHandler. stats may be nil.
func NewHealthHandler(mode string, startedAt time.Time, stats func() domain.CacheStats) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: startedAt, stats: stats}
}

// HealthCheck reports liveness, uptime and cache sizes.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":        "ok",
		"mode":          h.mode,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.stats != nil {
		resp["cache"] = h.stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
