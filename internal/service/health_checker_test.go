package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

func TestHealthCheckerColdStartIsUnhealthy(t *testing.T) {
	prober := &fakeProber{}
	prober.status.Store(http.StatusOK)
	hc := NewHealthChecker(testProbe, prober, nil, logger.NewNop())
	backend := newTestBackend()

	assert.False(t, hc.IsHealthy(backend))
	for i := 1; i < testProbe.Threshold; i++ {
		assert.True(t, hc.Check(context.Background(), backend))
		assert.False(t, hc.IsHealthy(backend), "%d good probes are below threshold", i)
	}
	hc.Check(context.Background(), backend)
	assert.True(t, hc.IsHealthy(backend))
	assert.False(t, backend.GetLastHealthCheck().IsZero())
}

func TestHealthCheckerProbeOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"expected status", http.StatusOK, nil, true},
		{"status mismatch", http.StatusServiceUnavailable, nil, false},
		{"redirect is not expected", http.StatusFound, nil, false},
		{"transport failure", 0, errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{err: tt.err}
			prober.status.Store(int32(tt.status))
			hc := NewHealthChecker(testProbe, prober, nil, logger.NewNop())

			assert.Equal(t, tt.want, hc.Check(context.Background(), newTestBackend()))
		})
	}
}

func TestHealthCheckerWindowEviction(t *testing.T) {
	metrics := NewMetrics()
	hc := NewHealthChecker(testProbe, &fakeProber{}, metrics, logger.NewNop())
	backend := newTestBackend()

	// window 5, threshold 3: T T T F F is healthy
	for _, outcome := range []bool{true, true, true, false, false} {
		hc.RecordProbe(backend, outcome)
	}
	assert.True(t, hc.IsHealthy(backend))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BackendHealthy.WithLabelValues("origin")))

	// the sixth outcome evicts the oldest true
	hc.RecordProbe(backend, false)
	assert.False(t, hc.IsHealthy(backend))
	assert.Equal(t, []bool{true, true, false, false, false}, backend.Window().Snapshot().Samples)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BackendHealthy.WithLabelValues("origin")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Probes.WithLabelValues("origin", "ok")))
}

func TestHealthCheckerLoopProbesPeriodically(t *testing.T) {
	prober := &fakeProber{}
	prober.status.Store(http.StatusOK)
	hc := NewHealthChecker(testProbe, prober, nil, logger.NewNop())
	backend := newTestBackend()

	require.NoError(t, hc.StartChecking(context.Background(), []*domain.Backend{backend}))
	assert.Error(t, hc.StartChecking(context.Background(), nil), "second start fails")
	assert.True(t, hc.IsRunning())

	assert.Eventually(t, func() bool { return hc.IsHealthy(backend) }, 2*time.Second, 5*time.Millisecond)

	prober.status.Store(http.StatusServiceUnavailable)
	assert.Eventually(t, func() bool { return !hc.IsHealthy(backend) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hc.StopChecking())
	assert.False(t, hc.IsRunning())

	calls := prober.calls.Load()
	time.Sleep(5 * testProbe.Interval)
	assert.Equal(t, calls, prober.calls.Load(), "no probes after stop")
}

func TestHealthCheckerConcurrentReadsDuringProbes(t *testing.T) {
	hc := NewHealthChecker(testProbe, &fakeProber{}, nil, logger.NewNop())
	backend := newTestBackend()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				hc.IsHealthy(backend)
			}
		}()
	}
	for j := 0; j < 500; j++ {
		hc.RecordProbe(backend, j%2 == 0)
	}
	wg.Wait()

	snap := backend.Window().Snapshot()
	assert.Equal(t, testProbe.Window, len(snap.Samples))
	assert.EqualValues(t, 500, snap.Total)
}
