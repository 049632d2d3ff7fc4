package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// BackendLookup lists and resolves backends
type BackendLookup interface {
	GetAll() []*domain.Backend
	GetByID(id string) (*domain.Backend, error)
	GetStats() map[string]interface{}
}

// ProbeRunner records probe outcomes and runs on-demand probes
type ProbeRunner interface {
	domain.HealthMonitor
	Check(ctx context.Context, backend *domain.Backend) bool
}

// CacheAdmin is the cache surface exposed to operators
type CacheAdmin interface {
	PurgeURI(ctx context.Context, requestURI, host string) (domain.CacheKey, error)
	GetStats() map[string]interface{}
}

// AdminHandler provides administrative API endpoints
type AdminHandler struct {
	backends    BackendLookup
	monitor     ProbeRunner
	cache       CacheAdmin
	defaultHost string
	logger      *logger.Logger
	startTime   time.Time
}

// NewAdminHandler creates a new admin handler. Purges without an explicit
// host are keyed on defaultHost, the host every cached request is rewritten to.
func NewAdminHandler(backends BackendLookup, monitor ProbeRunner, cache CacheAdmin, defaultHost string, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		backends:    backends,
		monitor:     monitor,
		cache:       cache,
		defaultHost: defaultHost,
		logger:      log.AdminLogger(),
		startTime:   time.Now(),
	}
}

// BackendResponse represents backend information in API responses
type BackendResponse struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Status          string    `json:"status"`
	Timeout         string    `json:"timeout"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFetches    int64     `json:"total_fetches"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// ProbeRequest is the body of POST /backends/{id}/probe. Without a body an
// active probe is sent instead.
type ProbeRequest struct {
	Healthy *bool `json:"healthy"`
}

// ProbeResponse reports the outcome recorded by a probe request
type ProbeResponse struct {
	BackendID string                `json:"backend_id"`
	Outcome   bool                  `json:"outcome"`
	Manual    bool                  `json:"manual"`
	Window    domain.WindowSnapshot `json:"window"`
}

// PurgeResponse reports an admin purge
type PurgeResponse struct {
	URL  string `json:"url"`
	Host string `json:"host"`
	Key  string `json:"key"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterRoutes mounts the admin endpoints on router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/backends", h.ListBackendsHandler).Methods(http.MethodGet)
	router.HandleFunc("/backends/{id}/health", h.BackendHealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/backends/{id}/probe", h.ProbeHandler).Methods(http.MethodPost)
	router.HandleFunc("/cache", h.PurgeHandler).Methods(http.MethodDelete)
	router.HandleFunc("/stats", h.GetStatsHandler).Methods(http.MethodGet)
}

// ListBackendsHandler handles GET /backends
func (h *AdminHandler) ListBackendsHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.backends.GetAll()
	response := make([]BackendResponse, 0, len(backends))
	for _, backend := range backends {
		response = append(response, BackendResponse{
			ID:              backend.ID,
			URL:             backend.URL(),
			Status:          backend.GetStatus().String(),
			Timeout:         backend.Timeout.String(),
			TotalRequests:   backend.GetTotalRequests(),
			TotalFetches:    backend.GetTotalFetches(),
			LastHealthCheck: backend.GetLastHealthCheck(),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// BackendHealthHandler handles GET /backends/{id}/health
func (h *AdminHandler) BackendHealthHandler(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.lookupBackend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, backend.Window().Snapshot())
}

// ProbeHandler handles POST /backends/{id}/probe
func (h *AdminHandler) ProbeHandler(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.lookupBackend(w, r)
	if !ok {
		return
	}

	var req ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	response := ProbeResponse{BackendID: backend.ID}
	if req.Healthy != nil {
		response.Manual = true
		response.Outcome = *req.Healthy
		h.monitor.RecordProbe(backend, response.Outcome)
	} else {
		response.Outcome = h.monitor.Check(r.Context(), backend)
	}
	response.Window = backend.Window().Snapshot()

	h.logger.WithFields(map[string]interface{}{
		"action":     "probe",
		"backend_id": backend.ID,
		"outcome":    response.Outcome,
		"manual":     response.Manual,
		"healthy":    response.Window.Healthy,
	}).Info("Recorded probe outcome")

	writeJSON(w, http.StatusOK, response)
}

// PurgeHandler handles DELETE /cache?url=&host=
func (h *AdminHandler) PurgeHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		h.writeErrorResponse(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	parsed, err := url.ParseRequestURI(target)
	if err != nil {
		h.writeErrorResponse(w, "url must be an absolute path", http.StatusBadRequest)
		return
	}

	host := r.URL.Query().Get("host")
	if host == "" {
		host = h.defaultHost
	}

	key, err := h.cache.PurgeURI(r.Context(), parsed.RequestURI(), host)
	if err != nil {
		h.logger.WithError(err).WithField("url", target).Error("Admin purge failed")
		h.writeErrorResponse(w, "Purge failed", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"action": "purge",
		"url":    parsed.RequestURI(),
		"host":   host,
		"key":    key.String(),
	}).Info("Purged cache object")

	writeJSON(w, http.StatusOK, PurgeResponse{URL: parsed.RequestURI(), Host: host, Key: key.String()})
}

// GetStatsHandler handles GET /stats
func (h *AdminHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.GetStats()
	stats["uptime"] = time.Since(h.startTime).String()

	backends := make(map[string]interface{})
	for _, backend := range h.backends.GetAll() {
		snapshot := backend.Window().Snapshot()
		backends[backend.ID] = map[string]interface{}{
			"healthy":        snapshot.Healthy,
			"good":           snapshot.Good,
			"window":         snapshot.Size,
			"threshold":      snapshot.Threshold,
			"total_requests": backend.GetTotalRequests(),
			"total_fetches":  backend.GetTotalFetches(),
		}
	}
	stats["backends"] = backends
	stats["registry"] = h.backends.GetStats()

	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) lookupBackend(w http.ResponseWriter, r *http.Request) (*domain.Backend, bool) {
	backend, err := h.backends.GetByID(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, err.Error(), cerrors.GetHTTPStatusCode(err))
		return nil, false
	}
	return backend, true
}

// writeErrorResponse writes a standardized error response
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error_message": message,
		"error_code":    code,
	}).Debug("Admin API error response")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
