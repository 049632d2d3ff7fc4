package service

import (
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
)

// DefaultObjectLifetime is the ttl and grace given to cacheable responses
const DefaultObjectLifetime = 24 * time.Hour

// DefaultUncacheableStatuses are delivered but never stored
var DefaultUncacheableStatuses = []int{
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
}

// ResponsePolicy decides storage for fetched origin responses.
type ResponsePolicy struct {
	ttl         time.Duration
	grace       time.Duration
	uncacheable map[int]bool
}

// NewResponsePolicy creates a response policy. Zero durations fall back to
// DefaultObjectLifetime and a nil status list to DefaultUncacheableStatuses.
func NewResponsePolicy(ttl, grace time.Duration, uncacheable []int) *ResponsePolicy {
	if ttl <= 0 {
		ttl = DefaultObjectLifetime
	}
	if grace <= 0 {
		grace = ttl
	}
	if uncacheable == nil {
		uncacheable = DefaultUncacheableStatuses
	}
	set := make(map[int]bool, len(uncacheable))
	for _, status := range uncacheable {
		set[status] = true
	}
	return &ResponsePolicy{ttl: ttl, grace: grace, uncacheable: set}
}

// OnFetched returns the storage policy for a response. Origin cache headers
// are ignored. Set-Cookie is always removed from the stored header copy.
func (p *ResponsePolicy) OnFetched(resp *domain.OriginResponse) domain.StoragePolicy {
	if p.uncacheable[resp.Status] {
		return domain.StoragePolicy{Cacheable: false, Header: resp.Header}
	}

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Set-Cookie")

	return domain.StoragePolicy{
		Cacheable: true,
		TTL:       p.ttl,
		Grace:     p.grace,
		Header:    header,
	}
}

// RetryPolicy is the backend error policy. MaxAttempts counts the first try;
// zero means retry forever.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each delay by up to this fraction either way
	Jitter float64
}

// DefaultRetryPolicy returns the bounded default policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// UnboundedRetryPolicy always retries, immediately.
func UnboundedRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// OnFetchError decides whether attempt (1-based) should be followed by
// another one, and after what delay.
func (p RetryPolicy) OnFetchError(err error, attempt int) domain.RetryDecision {
	if code := cerrors.GetErrorCode(err); code == cerrors.ErrCodeCircuitBreakerOpen {
		return domain.RetryDecision{Retry: false}
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return domain.RetryDecision{Retry: false}
	}
	return domain.RetryDecision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff returns the delay after the given failed attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		delay *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	return time.Duration(delay)
}
