package service

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
)

func TestResponsePolicyUncacheableStatuses(t *testing.T) {
	policy := NewResponsePolicy(DefaultObjectLifetime, DefaultObjectLifetime, nil)

	for _, status := range []int{403, 404, 500, 502, 503} {
		header := http.Header{}
		header.Set("Cache-Control", "public, max-age=3600")
		header.Set("Set-Cookie", "a=b")

		p := policy.OnFetched(&domain.OriginResponse{Status: status, Header: header})
		assert.False(t, p.Cacheable, "status %d", status)
		assert.Zero(t, p.TTL, "status %d", status)
		assert.Equal(t, "a=b", p.Header.Get("Set-Cookie"), "uncacheable responses are delivered as-is")
	}
}

func TestResponsePolicyCacheable(t *testing.T) {
	policy := NewResponsePolicy(DefaultObjectLifetime, 0, nil)

	header := http.Header{}
	header.Set("Content-Type", "text/html")
	header.Add("Set-Cookie", "session=1")
	header.Add("Set-Cookie", "tracking=2")
	resp := &domain.OriginResponse{Status: http.StatusOK, Header: header}

	p := policy.OnFetched(resp)
	assert.True(t, p.Cacheable)
	assert.Equal(t, 24*time.Hour, p.TTL)
	assert.Equal(t, 24*time.Hour, p.Grace)
	assert.Empty(t, p.Header.Values("Set-Cookie"))
	assert.Equal(t, "text/html", p.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Values("Set-Cookie"), 2, "origin header is not mutated")

	for _, status := range []int{200, 201, 301, 302, 304, 410} {
		assert.True(t, policy.OnFetched(&domain.OriginResponse{Status: status}).Cacheable, "status %d", status)
	}
}

func TestResponsePolicyCustomStatuses(t *testing.T) {
	policy := NewResponsePolicy(time.Minute, time.Hour, []int{http.StatusTeapot})

	assert.False(t, policy.OnFetched(&domain.OriginResponse{Status: http.StatusTeapot}).Cacheable)
	p := policy.OnFetched(&domain.OriginResponse{Status: http.StatusNotFound})
	assert.True(t, p.Cacheable)
	assert.Equal(t, time.Minute, p.TTL)
	assert.Equal(t, time.Hour, p.Grace)
}

func TestRetryPolicyBounded(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond, Multiplier: 2}
	err := errors.New("boom")

	d := policy.OnFetchError(err, 1)
	assert.True(t, d.Retry)
	assert.Equal(t, 100*time.Millisecond, d.Delay)

	d = policy.OnFetchError(err, 2)
	assert.True(t, d.Retry)
	assert.Equal(t, 200*time.Millisecond, d.Delay)

	assert.False(t, policy.OnFetchError(err, 3).Retry)
	assert.Equal(t, 250*time.Millisecond, policy.Backoff(5), "backoff is capped")
}

func TestRetryPolicyUnbounded(t *testing.T) {
	policy := UnboundedRetryPolicy()
	for _, attempt := range []int{1, 10, 1000} {
		d := policy.OnFetchError(errors.New("boom"), attempt)
		assert.True(t, d.Retry)
		assert.Zero(t, d.Delay)
	}
}

func TestRetryPolicyStopsOnOpenBreaker(t *testing.T) {
	d := UnboundedRetryPolicy().OnFetchError(cerrors.NewCircuitBreakerError("origin"), 1)
	assert.False(t, d.Retry)
}

func TestRetryPolicyJitterStaysInRange(t *testing.T) {
	policy := DefaultRetryPolicy()
	for i := 0; i < 50; i++ {
		d := policy.Backoff(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
