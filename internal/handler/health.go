package handler

import (
	"net/http"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
)

// DefaultBackend resolves the backend requests are routed to
type DefaultBackend interface {
	Default() *domain.Backend
}

// ObjectCounter reports how many objects a store holds
type ObjectCounter interface {
	Len() int
}

// HealthHandler provides liveness and readiness endpoints
type HealthHandler struct {
	startTime time.Time
	version   string
	backends  DefaultBackend
	store     ObjectCounter
	grace     bool
}

// NewHealthHandler creates a new health handler. With grace enabled the
// cache stays ready while its backend is sick as long as it holds objects
// it can serve.
func NewHealthHandler(version string, backends DefaultBackend, store ObjectCounter, grace bool) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		backends:  backends,
		store:     store,
		grace:     grace,
	}
}

// ReadinessHandler checks if the application is ready to serve traffic
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, code, reason := "ready", http.StatusOK, ""

	backend := h.backends.Default()
	switch {
	case backend == nil:
		status, code, reason = "not_ready", http.StatusServiceUnavailable, "no backend configured"
	case backend.IsHealthy():
	case h.grace && h.store != nil && h.store.Len() > 0:
		status, reason = "degraded", "backend sick, serving within grace"
	default:
		status, code, reason = "not_ready", http.StatusServiceUnavailable, "backend sick"
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	}
	if reason != "" {
		response["reason"] = reason
	}
	writeJSON(w, code, response)
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
