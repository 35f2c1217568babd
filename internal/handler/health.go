package handler

import (
	"net/http"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
)

// HealthHandler provides the liveness and readiness endpoints
type HealthHandler struct {
	ds        *dispatcher.Dispatcher
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(ds *dispatcher.Dispatcher, version string) *HealthHandler {
	return &HealthHandler{
		ds:        ds,
		startTime: time.Now(),
		version:   version,
	}
}

// ReadinessHandler reports ready once a destination list has been loaded
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	if !h.ds.Ready() {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"sets":      h.ds.Tree().Len(),
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}

// LivenessHandler checks if the process is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}
