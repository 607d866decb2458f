package handlers

import (
	"net/http"

	"github.com/kimhsiao/habitsync/internal/connectivity"
)

// HealthHandler reports liveness and local store health.
type HealthHandler struct {
	signal  connectivity.Signal
	version func(r *http.Request) (int, error)
}

// NewHealthHandler creates a HealthHandler. version may be nil.
func NewHealthHandler(signal connectivity.Signal, version func(r *http.Request) (int, error)) *HealthHandler {
	return &HealthHandler{signal: signal, version: version}
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "ok",
		"service": "habitsync-desktop",
		"online":  h.signal.Online(),
	}
	status := http.StatusOK

	if h.version != nil {
		v, err := h.version(r)
		if err != nil {
			response["status"] = "degraded"
			response["storage_error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response["schema_version"] = v
		}
	}

	writeJSON(w, status, response)
}
