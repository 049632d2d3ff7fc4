package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// entryWithRemaining returns an entry that has remaining ttl and grace at now
func entryWithRemaining(now time.Time, remaining, grace time.Duration) *domain.CacheEntry {
	ttl := time.Hour
	storedAt := now.Add(-(ttl - remaining))
	resp := &domain.OriginResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("x")}
	return domain.NewCacheEntry(domain.CacheKey{}, resp, ttl, grace, storedAt)
}

func TestFreshnessDecisions(t *testing.T) {
	monitor := NewHealthChecker(testProbe, &fakeProber{}, nil, logger.NewNop())
	policy := NewFreshnessPolicy(DefaultHealthyWindow, monitor)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	healthy := newTestBackend()
	markHealthy(healthy)
	sick := newTestBackend()

	tests := []struct {
		name      string
		remaining time.Duration
		grace     time.Duration
		backend   *domain.Backend
		want      domain.FreshnessDecision
	}{
		{"fresh on healthy", 5 * time.Second, 10 * time.Second, healthy,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Fresh: true}},
		{"fresh on sick", 5 * time.Second, 0, sick,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Fresh: true}},
		{"stale within healthy window", -5 * time.Second, 10 * time.Second, healthy,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Refresh: true}},
		{"zero remaining is stale", 0, 10 * time.Second, healthy,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, Refresh: true}},
		{"healthy window exceeded", -20 * time.Second, time.Hour, healthy,
			domain.FreshnessDecision{Verdict: domain.VerdictMiss}},
		{"stale within grace on sick", -5 * time.Second, 10 * time.Second, sick,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, UsingGrace: true}},
		{"grace exhausted on sick", -10 * time.Second, 10 * time.Second, sick,
			domain.FreshnessDecision{Verdict: domain.VerdictMiss}},
		{"long grace outlives healthy window", -time.Hour, 2 * time.Hour, sick,
			domain.FreshnessDecision{Verdict: domain.VerdictDeliver, UsingGrace: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := entryWithRemaining(now, tt.remaining, tt.grace)
			assert.Equal(t, tt.want, policy.DecideAt(entry, tt.backend, now))
		})
	}
}

func TestFreshnessMissWithoutEntry(t *testing.T) {
	policy := NewFreshnessPolicy(0, NewHealthChecker(testProbe, &fakeProber{}, nil, logger.NewNop()))
	b := newTestBackend()
	markHealthy(b)

	assert.Equal(t, domain.VerdictMiss, policy.Decide(nil, b).Verdict)
}

func TestFreshnessUsesConfiguredHealthyWindow(t *testing.T) {
	monitor := NewHealthChecker(testProbe, &fakeProber{}, nil, logger.NewNop())
	policy := NewFreshnessPolicy(time.Minute, monitor)
	now := time.Now()
	b := newTestBackend()
	markHealthy(b)

	entry := entryWithRemaining(now, -30*time.Second, 0)
	assert.Equal(t, domain.VerdictDeliver, policy.DecideAt(entry, b, now).Verdict)
}
