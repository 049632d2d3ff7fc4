package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
)

// InMemoryBackendRepository is the process-wide owner of backends.
type InMemoryBackendRepository struct {
	mu        sync.RWMutex
	backends  map[string]*domain.Backend
	defaultID string
}

// NewInMemoryBackendRepository creates a new in-memory backend repository
func NewInMemoryBackendRepository() *InMemoryBackendRepository {
	return &InMemoryBackendRepository{
		backends: make(map[string]*domain.Backend),
	}
}

// GetAll returns all backends ordered by ID
func (r *InMemoryBackendRepository) GetAll() []*domain.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backends := make([]*domain.Backend, 0, len(r.backends))
	for _, backend := range r.backends {
		backends = append(backends, backend)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].ID < backends[j].ID })
	return backends
}

// GetByID returns a backend by its ID
func (r *InMemoryBackendRepository) GetByID(id string) (*domain.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, exists := r.backends[id]
	if !exists {
		return nil, cerrors.NewBackendNotFoundError(id)
	}
	return backend, nil
}

// Save persists a backend. The first saved backend becomes the default.
func (r *InMemoryBackendRepository) Save(backend *domain.Backend) error {
	if backend == nil {
		return fmt.Errorf("backend cannot be nil")
	}
	if backend.ID == "" {
		return fmt.Errorf("backend ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.backends[backend.ID] = backend
	if r.defaultID == "" {
		r.defaultID = backend.ID
	}
	return nil
}

// SetDefault selects the backend requests are routed to
func (r *InMemoryBackendRepository) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; !exists {
		return cerrors.NewBackendNotFoundError(id)
	}
	r.defaultID = id
	return nil
}

// Default returns the backend requests are routed to, or nil when empty
func (r *InMemoryBackendRepository) Default() *domain.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.defaultID]
}

// GetHealthy returns only healthy backends
func (r *InMemoryBackendRepository) GetHealthy() []*domain.Backend {
	var healthy []*domain.Backend
	for _, backend := range r.GetAll() {
		if backend.IsHealthy() {
			healthy = append(healthy, backend)
		}
	}
	return healthy
}

// GetStats returns repository statistics
func (r *InMemoryBackendRepository) GetStats() map[string]interface{} {
	backends := r.GetAll()
	healthy := len(r.GetHealthy())

	r.mu.RLock()
	defaultID := r.defaultID
	r.mu.RUnlock()

	return map[string]interface{}{
		"total_backends":     len(backends),
		"healthy_backends":   healthy,
		"unhealthy_backends": len(backends) - healthy,
		"default_backend":    defaultID,
	}
}
