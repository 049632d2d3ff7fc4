package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/pkg/logger"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.BurstSize,
		idleTTL:  10 * time.Minute,
		logger:   log.MiddlewareLogger("rate_limiter"),
		now:      time.Now,
	}
}

// Allow reports whether client may send another request now
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	cl, exists := rl.limiters[client]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = cl
	}
	cl.lastSeen = rl.now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Cleanup drops limiters of clients idle for longer than the idle TTL
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for client, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, client)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debugf("Removed %d idle rate limiters", removed)
	}
	return removed
}

// RateLimitMiddleware rejects clients that exceed their bucket with 429
func (rl *RateLimiter) RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)

			if !rl.Allow(client) {
				rl.logger.WithFields(map[string]interface{}{
					"client_ip": client,
					"path":      r.URL.Path,
					"method":    r.Method,
				}).Warn("Rate limit exceeded")

				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.2f", float64(rl.rate)))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")

				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"rate_limit":     float64(rl.rate),
		"burst_size":     rl.burst,
		"active_clients": len(rl.limiters),
	}
}
