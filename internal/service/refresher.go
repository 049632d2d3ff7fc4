package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// RefreshFunc re-fetches and stores the object for key
type RefreshFunc func(ctx context.Context, key domain.CacheKey, rc *domain.RequestContext) error

type refreshJob struct {
	key domain.CacheKey
	rc  *domain.RequestContext
}

// Refresher runs background re-fetches for entries served stale. Jobs are
// handed over on a bounded channel and dropped when it is full.
type Refresher struct {
	fn      RefreshFunc
	jobs    chan refreshJob
	workers int
	timeout time.Duration
	metrics *Metrics
	logger  *logger.Logger

	mu       sync.Mutex
	queued   map[domain.CacheKey]struct{}
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRefresher creates a refresher with the given pool and queue sizes
func NewRefresher(fn RefreshFunc, workers, queueSize int, timeout time.Duration, metrics *Metrics, log *logger.Logger) *Refresher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Refresher{
		fn:       fn,
		jobs:     make(chan refreshJob, queueSize),
		workers:  workers,
		timeout:  timeout,
		metrics:  metrics,
		logger:   log.CacheLogger().WithField("component", "refresher"),
		queued:   make(map[domain.CacheKey]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker pool
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("refresher is already running")
	}
	r.running = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Infof("Started %d refresh workers", r.workers)
	return nil
}

// Stop stops the workers. Queued jobs that have not started are discarded.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.stopChan = make(chan struct{})
	r.queued = make(map[domain.CacheKey]struct{})
	r.mu.Unlock()
	r.logger.Info("Refresh workers stopped")
}

// Schedule enqueues a refresh for key without blocking. It returns false
// when the job was dropped or a refresh for key is already queued.
func (r *Refresher) Schedule(key domain.CacheKey, rc *domain.RequestContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		r.record("dropped")
		return false
	}
	if _, dup := r.queued[key]; dup {
		r.record("duplicate")
		return false
	}

	select {
	case r.jobs <- refreshJob{key: key, rc: rc.CloneForRefresh()}:
		r.queued[key] = struct{}{}
		r.record("queued")
		return true
	default:
		r.record("dropped")
		r.logger.WithField("key", key.String()).Warn("Refresh queue full, dropping job")
		return false
	}
}

func (r *Refresher) worker(id int) {
	defer r.wg.Done()

	r.mu.Lock()
	stop := r.stopChan
	r.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case job := <-r.jobs:
			r.run(id, job)
		}
	}
}

func (r *Refresher) run(id int, job refreshJob) {
	defer func() {
		r.mu.Lock()
		delete(r.queued, job.key)
		r.mu.Unlock()
	}()

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.logger.WithFields(map[string]interface{}{
		"worker":     id,
		"key":        job.key.String(),
		"request_id": job.rc.RequestID,
	})

	if err := r.fn(ctx, job.key, job.rc); err != nil {
		r.record("failed")
		log.WithError(err).Warn("Background refresh failed")
		return
	}
	r.record("succeeded")
	log.Debug("Background refresh completed")
}

func (r *Refresher) record(result string) {
	if r.metrics != nil {
		r.metrics.Refreshes.WithLabelValues(result).Inc()
	}
}

// QueueLength returns the number of waiting jobs
func (r *Refresher) QueueLength() int {
	return len(r.jobs)
}
