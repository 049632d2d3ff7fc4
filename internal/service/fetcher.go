package service

import (
	"context"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// Fetcher wraps an Origin with the retry policy and an optional circuit
// breaker.
type Fetcher struct {
	origin  domain.Origin
	retry   RetryPolicy
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *logger.Logger
}

// NewFetcher creates a fetcher. breaker and metrics may be nil.
func NewFetcher(origin domain.Origin, retry RetryPolicy, breaker *CircuitBreaker, metrics *Metrics, log *logger.Logger) *Fetcher {
	if breaker != nil && metrics != nil {
		breaker.OnStateChange(metrics.RecordBreakerState)
	}
	return &Fetcher{
		origin:  origin,
		retry:   retry,
		breaker: breaker,
		metrics: metrics,
		logger:  log.CacheLogger(),
	}
}

// Fetch performs the fetch, retrying failures until the policy gives up or
// ctx is done. Each attempt is bounded by the backend timeout.
func (f *Fetcher) Fetch(ctx context.Context, backend *domain.Backend, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	log := f.logger.BackendLogger(backend.ID, backend.URL()).WithField("request_id", rc.RequestID)

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, backend, rc)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Info("Fetch succeeded after retry")
			}
			return resp, nil
		}
		lastErr = err

		decision := f.retry.OnFetchError(err, attempt)
		if !decision.Retry {
			break
		}

		if f.metrics != nil {
			f.metrics.FetchRetries.Inc()
		}
		log.WithError(err).WithFields(map[string]interface{}{
			"attempt": attempt,
			"backoff": decision.Delay.String(),
		}).Debug("Retrying fetch after backoff")

		select {
		case <-ctx.Done():
			return nil, cerrors.WrapError(ctx.Err(), cerrors.ErrCodeFetchTimeout, "fetcher",
				"context done during retry backoff")
		case <-time.After(decision.Delay):
		}
	}

	if cerrors.GetErrorCode(lastErr) == cerrors.ErrCodeCircuitBreakerOpen {
		return nil, lastErr
	}
	log.WithError(lastErr).Warn("Fetch retries exhausted")
	return nil, cerrors.NewRetriesExhaustedError(f.retry.MaxAttempts, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, backend *domain.Backend, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	if f.breaker != nil && !f.breaker.Allow() {
		return nil, cerrors.NewCircuitBreakerError(backend.ID)
	}

	attemptCtx := ctx
	if backend.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, backend.Timeout)
		defer cancel()
	}

	backend.IncrementFetches()
	start := time.Now()
	resp, err := f.origin.Fetch(attemptCtx, backend, rc)
	if f.metrics != nil {
		f.metrics.ObserveFetch(time.Since(start), err)
	}

	if err != nil {
		if f.breaker != nil {
			f.breaker.RecordFailure()
		}
		if _, ok := err.(*cerrors.CacheError); ok {
			return nil, err
		}
		return nil, cerrors.NewFetchError(backend.ID, err)
	}

	if f.breaker != nil {
		f.breaker.RecordSuccess()
	}
	return resp, nil
}
