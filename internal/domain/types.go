package domain

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// BackendStatus represents the health status of a backend server
type BackendStatus int

const (
	// StatusUnhealthy indicates the probe window is below its threshold
	StatusUnhealthy BackendStatus = iota
	// StatusHealthy indicates the probe window meets its threshold
	StatusHealthy
)

// String returns the string representation of BackendStatus
func (s BackendStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "sick"
	default:
		return "unknown"
	}
}

// ProbeConfig is the immutable health probe definition shared by backends.
type ProbeConfig struct {
	Path           string        `json:"path" yaml:"path"`
	ExpectedStatus int           `json:"expected_status" yaml:"expected_status"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	Interval       time.Duration `json:"interval" yaml:"interval"`
	Window         int           `json:"window" yaml:"window"`
	Threshold      int           `json:"threshold" yaml:"threshold"`
}

// Validate enforces W >= T >= 1 and positive timings
func (p ProbeConfig) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("probe path cannot be empty")
	}
	if p.ExpectedStatus < 100 || p.ExpectedStatus > 599 {
		return fmt.Errorf("probe expected_status out of range: %d", p.ExpectedStatus)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if p.Interval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if p.Threshold < 1 {
		return fmt.Errorf("probe threshold must be at least 1, got %d", p.Threshold)
	}
	if p.Window < p.Threshold {
		return fmt.Errorf("probe window (%d) must not be smaller than threshold (%d)", p.Window, p.Threshold)
	}
	return nil
}

// Backend is an origin server together with its health window.
type Backend struct {
	ID      string        `json:"id" yaml:"id"`
	Host    string        `json:"host" yaml:"host"`
	Port    int           `json:"port" yaml:"port"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	window *HealthWindow

	// Runtime state - thread-safe using atomic operations
	totalRequests   int64
	totalFetches    int64
	lastHealthCheck int64
}

// NewBackend creates a backend whose health window follows probe
func NewBackend(id, host string, port int, probe ProbeConfig) *Backend {
	return &Backend{
		ID:      id,
		Host:    host,
		Port:    port,
		Timeout: 30 * time.Second,
		window:  NewHealthWindow(probe.Window, probe.Threshold),
	}
}

// Address returns host:port
func (b *Backend) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// URL returns the base URL used for fetches and probes
func (b *Backend) URL() string {
	return "http://" + b.Address()
}

// Window returns the backend's probe history
func (b *Backend) Window() *HealthWindow {
	return b.window
}

// IsHealthy reads the last published window snapshot and never blocks.
func (b *Backend) IsHealthy() bool {
	return b.window.Healthy()
}

// GetStatus returns the current backend status
func (b *Backend) GetStatus() BackendStatus {
	if b.IsHealthy() {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// IncrementRequests atomically increments the total request count
func (b *Backend) IncrementRequests() {
	atomic.AddInt64(&b.totalRequests, 1)
}

// GetTotalRequests returns the total number of requests routed to b
func (b *Backend) GetTotalRequests() int64 {
	return atomic.LoadInt64(&b.totalRequests)
}

// IncrementFetches atomically increments the origin fetch count
func (b *Backend) IncrementFetches() {
	atomic.AddInt64(&b.totalFetches, 1)
}

// GetTotalFetches returns the number of origin fetches issued to b
func (b *Backend) GetTotalFetches() int64 {
	return atomic.LoadInt64(&b.totalFetches)
}

// UpdateLastHealthCheck updates the timestamp of the last health check
func (b *Backend) UpdateLastHealthCheck() {
	atomic.StoreInt64(&b.lastHealthCheck, time.Now().UnixNano())
}

// GetLastHealthCheck returns the timestamp of the last health check
func (b *Backend) GetLastHealthCheck() time.Time {
	ns := atomic.LoadInt64(&b.lastHealthCheck)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
