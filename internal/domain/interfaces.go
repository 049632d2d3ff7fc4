package domain

import (
	"context"
	"time"
)

// Store is the object store consumed by the decision engine.
type Store interface {
	// Get returns the entry for key, or nil when absent
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	// Put stores entry under key, superseding any previous entry
	Put(ctx context.Context, key CacheKey, entry *CacheEntry) error
	// Purge removes key
	Purge(ctx context.Context, key CacheKey) error
}

// Prober issues one synthetic health request to a backend
type Prober interface {
	Send(ctx context.Context, backend *Backend, path string, timeout time.Duration) (int, error)
}

// Origin fetches a request from a backend
type Origin interface {
	Fetch(ctx context.Context, backend *Backend, rc *RequestContext) (*OriginResponse, error)
}

// ErrorPageLoader returns the static document used for synthetic errors
type ErrorPageLoader interface {
	Load() ([]byte, error)
}

// HealthMonitor records probe outcomes and answers health queries
type HealthMonitor interface {
	RecordProbe(backend *Backend, outcome bool)
	IsHealthy(backend *Backend) bool
}
