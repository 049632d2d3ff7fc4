package service

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/grace-cache/internal/domain"
)

const metricsNamespace = "grace_cache"

// Lookup results recorded by Metrics.RecordLookup
const (
	LookupFresh = "fresh"
	LookupStale = "stale"
	LookupGrace = "grace"
	LookupMiss  = "miss"
)

// Metrics holds the cache's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	Lookups        *prometheus.CounterVec
	Fetches        *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	FetchRetries   prometheus.Counter
	Coalesced      prometheus.Counter
	Stores         *prometheus.CounterVec
	Purges         prometheus.Counter
	Refreshes      *prometheus.CounterVec
	Probes         *prometheus.CounterVec
	BackendHealthy *prometheus.GaugeVec
	BreakerState   prometheus.Gauge

	// plain counters for the admin stats endpoint
	totalRequests atomic.Int64
	totalHits     atomic.Int64
	totalMisses   atomic.Int64
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests by classifier disposition",
		}, []string{"disposition"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lookups_total",
			Help:      "Cache lookups by freshness outcome",
		}, []string{"result"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "origin_fetches_total",
			Help:      "Origin fetch attempts by result",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "origin_fetch_duration_seconds",
			Help:      "Duration of origin fetch attempts",
			Buckets:   prometheus.DefBuckets,
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "origin_fetch_retries_total",
			Help:      "Origin fetch retries",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "coalesced_fetches_total",
			Help:      "Misses that shared another request's origin fetch",
		}),
		Stores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stores_total",
			Help:      "Fetched responses by storage decision",
		}, []string{"decision"}),
		Purges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "purges_total",
			Help:      "Accepted purge requests",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "background_refreshes_total",
			Help:      "Background refreshes by result",
		}, []string{"result"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "health_probes_total",
			Help:      "Health probes by backend and outcome",
		}, []string{"backend", "outcome"}),
		BackendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backend_healthy",
			Help:      "1 when the backend's probe window meets its threshold",
		}, []string{"backend"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "origin_circuit_breaker_state",
			Help:      "Origin circuit breaker state: 0 closed, 1 open, 2 half-open",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Lookups, m.Fetches, m.FetchDuration, m.FetchRetries,
		m.Coalesced, m.Stores, m.Purges, m.Refreshes, m.Probes, m.BackendHealthy,
		m.BreakerState,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a classified request
func (m *Metrics) RecordRequest(kind domain.DispositionKind) {
	m.totalRequests.Add(1)
	m.Requests.WithLabelValues(kind.String()).Inc()
}

// RecordLookup counts a lookup outcome
func (m *Metrics) RecordLookup(result string) {
	if result == LookupMiss {
		m.totalMisses.Add(1)
	} else {
		m.totalHits.Add(1)
	}
	m.Lookups.WithLabelValues(result).Inc()
}

// ObserveFetch records one origin fetch attempt
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	m.FetchDuration.Observe(d.Seconds())
	if err != nil {
		m.Fetches.WithLabelValues("error").Inc()
		return
	}
	m.Fetches.WithLabelValues("ok").Inc()
}

// RecordProbe records a probe outcome and the resulting health state
func (m *Metrics) RecordProbe(backendID string, outcome, healthy bool) {
	result := "fail"
	if outcome {
		result = "ok"
	}
	m.Probes.WithLabelValues(backendID, result).Inc()

	value := 0.0
	if healthy {
		value = 1
	}
	m.BackendHealthy.WithLabelValues(backendID).Set(value)
}

// RecordBreakerState exports the circuit breaker state
func (m *Metrics) RecordBreakerState(state BreakerState) {
	m.BreakerState.Set(float64(state))
}

// GetStats returns a summary for the admin API
func (m *Metrics) GetStats() map[string]interface{} {
	requests := m.totalRequests.Load()
	hits := m.totalHits.Load()
	misses := m.totalMisses.Load()

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return map[string]interface{}{
		"total_requests": requests,
		"cache_hits":     hits,
		"cache_misses":   misses,
		"hit_rate":       hitRate,
	}
}
