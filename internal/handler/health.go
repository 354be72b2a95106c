package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler provides application health check endpoints
type HealthHandler struct {
	startTime time.Time
	version   string
	ready     func(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. ready is consulted by the
// readiness probe; a nil ready always reports ready.
func NewHealthHandler(version string, ready func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		ready:     ready,
	}
}

// ReadinessHandler checks if the record store can be read
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	}

	status := http.StatusOK
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			response["status"] = "not_ready"
			response["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}

// LivenessHandler checks if the application is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}
