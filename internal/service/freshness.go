package service

import (
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
)

// DefaultHealthyWindow is how far past its ttl an entry may be served while
// the backend is healthy and a refresh is in flight.
const DefaultHealthyWindow = 20 * time.Second

// FreshnessPolicy decides whether a cached entry may be delivered.
type FreshnessPolicy struct {
	healthyWindow time.Duration
	monitor       domain.HealthMonitor
	now           func() time.Time
}

// NewFreshnessPolicy creates a policy. A zero healthyWindow selects
// DefaultHealthyWindow.
func NewFreshnessPolicy(healthyWindow time.Duration, monitor domain.HealthMonitor) *FreshnessPolicy {
	if healthyWindow <= 0 {
		healthyWindow = DefaultHealthyWindow
	}
	return &FreshnessPolicy{
		healthyWindow: healthyWindow,
		monitor:       monitor,
		now:           time.Now,
	}
}

// HealthyWindow returns how long past its ttl an entry stays deliverable
// while the backend is healthy
func (p *FreshnessPolicy) HealthyWindow() time.Duration {
	return p.healthyWindow
}

// Decide evaluates entry against backend health. Age is observed once so
// the fresh and stale checks see the same instant.
func (p *FreshnessPolicy) Decide(entry *domain.CacheEntry, backend *domain.Backend) domain.FreshnessDecision {
	return p.DecideAt(entry, backend, p.now())
}

// DecideAt is Decide evaluated at now
func (p *FreshnessPolicy) DecideAt(entry *domain.CacheEntry, backend *domain.Backend, now time.Time) domain.FreshnessDecision {
	if entry == nil {
		return domain.FreshnessDecision{Verdict: domain.VerdictMiss}
	}

	remaining := entry.Remaining(now)
	if remaining > 0 {
		return domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Fresh: true}
	}

	if backend != nil && p.monitor.IsHealthy(backend) {
		if remaining+p.healthyWindow > 0 {
			return domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Refresh: true}
		}
		return domain.FreshnessDecision{Verdict: domain.VerdictMiss}
	}

	if remaining+entry.Grace > 0 {
		return domain.FreshnessDecision{Verdict: domain.VerdictDeliver, UsingGrace: true}
	}
	return domain.FreshnessDecision{Verdict: domain.VerdictMiss}
}
