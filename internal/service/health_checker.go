package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// HealthChecker implements domain.HealthMonitor. Probing runs as one ticker
// goroutine per backend; results land in the backend's health window.
type HealthChecker struct {
	probe     domain.ProbeConfig
	prober    domain.Prober
	metrics   *Metrics
	logger    *logger.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewHealthChecker creates a new health checker instance. metrics may be nil.
func NewHealthChecker(probe domain.ProbeConfig, prober domain.Prober, metrics *Metrics, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		probe:    probe,
		prober:   prober,
		metrics:  metrics,
		logger:   log.HealthCheckLogger(),
		stopChan: make(chan struct{}),
	}
}

// RecordProbe appends outcome to the backend's window and logs transitions
func (hc *HealthChecker) RecordProbe(backend *domain.Backend, outcome bool) {
	was, now := backend.Window().Record(outcome)
	backend.UpdateLastHealthCheck()

	if hc.metrics != nil {
		hc.metrics.RecordProbe(backend.ID, outcome, now)
	}

	if was == now {
		return
	}
	log := hc.logger.BackendLogger(backend.ID, backend.URL())
	snap := backend.Window().Snapshot()
	fields := map[string]interface{}{
		"good":      snap.Good,
		"window":    snap.Size,
		"threshold": snap.Threshold,
	}
	if now {
		log.WithFields(fields).Info("Backend is healthy")
	} else {
		log.WithFields(fields).Warn("Backend is sick")
	}
}

// IsHealthy reads the backend's published window snapshot
func (hc *HealthChecker) IsHealthy(backend *domain.Backend) bool {
	return backend.IsHealthy()
}

// Check sends one probe and records its outcome. A probe failure is
// reported as false, never as an error.
func (hc *HealthChecker) Check(ctx context.Context, backend *domain.Backend) bool {
	log := hc.logger.BackendLogger(backend.ID, backend.URL())

	start := time.Now()
	status, err := hc.prober.Send(ctx, backend, hc.probe.Path, hc.probe.Timeout)
	duration := time.Since(start)

	outcome := err == nil && status == hc.probe.ExpectedStatus
	switch {
	case err != nil:
		log.WithError(err).WithField("duration_ms", duration.Milliseconds()).
			Debug("Health probe failed")
	case !outcome:
		log.WithFields(map[string]interface{}{
			"status_code": status,
			"expected":    hc.probe.ExpectedStatus,
		}).Debug("Health probe returned unexpected status")
	default:
		log.WithField("duration_ms", duration.Milliseconds()).Debug("Health probe passed")
	}

	hc.RecordProbe(backend, outcome)
	return outcome
}

// StartChecking starts periodic probing for all backends
func (hc *HealthChecker) StartChecking(ctx context.Context, backends []*domain.Backend) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.isRunning {
		return fmt.Errorf("health checker is already running")
	}

	hc.isRunning = true
	hc.logger.Infof("Starting health checker with interval %v", hc.probe.Interval)

	for _, backend := range backends {
		hc.wg.Add(1)
		go hc.healthCheckLoop(ctx, backend)
	}

	return nil
}

// StopChecking stops health checking and waits for the probe loops to exit
func (hc *HealthChecker) StopChecking() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if !hc.isRunning {
		return nil
	}

	hc.logger.Info("Stopping health checker")
	close(hc.stopChan)
	hc.wg.Wait()
	hc.isRunning = false
	hc.stopChan = make(chan struct{})

	hc.logger.Info("Health checker stopped")
	return nil
}

// healthCheckLoop probes one backend on every tick. Ticks are not skipped
// for slow probes; each probe is bounded by its own timeout.
func (hc *HealthChecker) healthCheckLoop(ctx context.Context, backend *domain.Backend) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.probe.Interval)
	defer ticker.Stop()

	stop := hc.stopChan
	log := hc.logger.BackendLogger(backend.ID, backend.URL())
	log.Debug("Starting health check loop")

	hc.probeOnce(ctx, backend)

	for {
		select {
		case <-ctx.Done():
			log.Debug("Health check loop stopped due to context cancellation")
			return
		case <-stop:
			log.Debug("Health check loop stopped")
			return
		case <-ticker.C:
			hc.probeOnce(ctx, backend)
		}
	}
}

func (hc *HealthChecker) probeOnce(ctx context.Context, backend *domain.Backend) {
	checkCtx, cancel := context.WithTimeout(ctx, hc.probe.Timeout)
	defer cancel()
	hc.Check(checkCtx, backend)
}

// GetStats returns health checker statistics
func (hc *HealthChecker) GetStats() map[string]interface{} {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return map[string]interface{}{
		"running":         hc.isRunning,
		"interval":        hc.probe.Interval.String(),
		"timeout":         hc.probe.Timeout.String(),
		"window":          hc.probe.Window,
		"threshold":       hc.probe.Threshold,
		"path":            hc.probe.Path,
		"expected_status": hc.probe.ExpectedStatus,
	}
}

// IsRunning returns true if health checking is currently running
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isRunning
}
