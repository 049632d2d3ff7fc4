package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/mir00r/grace-cache/internal/errors"
	"github.com/mir00r/grace-cache/pkg/logger"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestFetcherRetriesUntilSuccess(t *testing.T) {
	origin := &fakeOrigin{body: "ok", failures: 2}
	f := NewFetcher(origin, fastRetry(3), nil, NewMetrics(), logger.NewNop())
	backend := newTestBackend()

	resp, err := f.Fetch(context.Background(), backend, newRequest(http.MethodGet, "/", "example.com", "1.2.3.4:1"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.EqualValues(t, 3, origin.calls.Load())
	assert.EqualValues(t, 3, backend.GetTotalFetches())
}

func TestFetcherGivesUpAfterMaxAttempts(t *testing.T) {
	origin := &fakeOrigin{failures: 100}
	f := NewFetcher(origin, fastRetry(2), nil, nil, logger.NewNop())

	_, err := f.Fetch(context.Background(), newTestBackend(), newRequest(http.MethodGet, "/", "", "1.2.3.4:1"))
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeRetriesExhausted, cerrors.GetErrorCode(err))
	assert.Equal(t, http.StatusServiceUnavailable, cerrors.GetHTTPStatusCode(err))
	assert.EqualValues(t, 2, origin.calls.Load())
}

func TestFetcherUnboundedRetryStopsWithContext(t *testing.T) {
	origin := &fakeOrigin{failures: 1 << 30}
	policy := UnboundedRetryPolicy()
	policy.InitialBackoff = time.Millisecond
	f := NewFetcher(origin, policy, nil, nil, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, newTestBackend(), newRequest(http.MethodGet, "/", "", "1.2.3.4:1"))
	require.Error(t, err)
	assert.Greater(t, origin.calls.Load(), int32(3))
}

func TestFetcherFailsFastWhenBreakerOpen(t *testing.T) {
	origin := &fakeOrigin{failures: 100}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled: true, FailureThreshold: 2, RecoveryTimeout: time.Hour, MaxRequests: 1,
	}, logger.NewNop())
	f := NewFetcher(origin, UnboundedRetryPolicy(), breaker, nil, logger.NewNop())

	_, err := f.Fetch(context.Background(), newTestBackend(), newRequest(http.MethodGet, "/", "", "1.2.3.4:1"))
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeCircuitBreakerOpen, cerrors.GetErrorCode(err))
	assert.EqualValues(t, 2, origin.calls.Load())
}
