package service

import (
	"sync"
	"time"

	"github.com/mir00r/grace-cache/pkg/logger"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState int

const (
	// BreakerClosed lets every fetch through
	BreakerClosed BreakerState = iota
	// BreakerOpen fails fetches fast until the cooldown ends
	BreakerOpen
	// BreakerHalfOpen lets a limited number of trial fetches through
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker. MaxRequests is the
// number of trial fetches in half-open state, and the number of trial
// successes needed to close again.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MaxRequests      int
}

// CircuitBreaker stops origin fetches while the backend keeps failing them.
// It only sees fetch outcomes; probe results drive the health window.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	trials    int
	successes int
	reopenAt  time.Time
	onChange  func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	return &CircuitBreaker{
		config: config,
		logger: log.MiddlewareLogger("circuit_breaker"),
		now:    time.Now,
	}
}

// OnStateChange registers fn to be called with every new state
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow reports whether a fetch may be attempted now
func (cb *CircuitBreaker) Allow() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Before(cb.reopenAt) {
			return false
		}
		cb.transition(BreakerHalfOpen)
		cb.trials = 1
		return true
	case BreakerHalfOpen:
		if cb.trials >= cb.config.MaxRequests {
			return false
		}
		cb.trials++
		return true
	default:
		return true
	}
}

// RecordSuccess records a fetch that reached the origin
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != BreakerHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.config.MaxRequests {
		cb.transition(BreakerClosed)
	}
}

// RecordFailure records a failed fetch
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case BreakerHalfOpen:
		cb.open()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// open must be called with mu held
func (cb *CircuitBreaker) open() {
	cb.reopenAt = cb.now().Add(cb.config.RecoveryTimeout)
	cb.transition(BreakerOpen)
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.trials = 0
	cb.successes = 0
	if to == BreakerClosed {
		cb.failures = 0
	}

	fields := map[string]interface{}{
		"from":     from.String(),
		"to":       to.String(),
		"failures": cb.failures,
	}
	if to == BreakerOpen {
		fields["retry_at"] = cb.reopenAt
		cb.logger.WithFields(fields).Warn("Circuit breaker opened")
	} else {
		cb.logger.WithFields(fields).Info("Circuit breaker state changed")
	}

	if cb.onChange != nil {
		cb.onChange(to)
	}
}
