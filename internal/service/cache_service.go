package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mir00r/grace-cache/internal/domain"
	cerrors "github.com/mir00r/grace-cache/internal/errors"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// BackendRegistry resolves the backend requests are routed to
type BackendRegistry interface {
	Default() *domain.Backend
}

// CacheServiceConfig holds the engine's tunables
type CacheServiceConfig struct {
	// Coalesce shares one origin fetch between concurrent misses on a key
	Coalesce       bool
	RefreshWorkers int
	RefreshQueue   int
	RefreshTimeout time.Duration
}

// CacheServiceDeps are the collaborators of a CacheService
type CacheServiceDeps struct {
	Registry   BackendRegistry
	Classifier *Classifier
	Keys       *KeyBuilder
	Freshness  *FreshnessPolicy
	Policy     *ResponsePolicy
	Fetcher    *Fetcher
	Store      domain.Store
	ErrorPage  domain.ErrorPageLoader
	Metrics    *Metrics
	Logger     *logger.Logger
}

// CacheService runs every request through classification, lookup,
// freshness, fetch and finalisation.
type CacheService struct {
	config     CacheServiceConfig
	registry   BackendRegistry
	classifier *Classifier
	keys       *KeyBuilder
	freshness  *FreshnessPolicy
	policy     *ResponsePolicy
	fetcher    *Fetcher
	store      domain.Store
	errorPage  domain.ErrorPageLoader
	refresher  *Refresher
	metrics    *Metrics
	logger     *logger.Logger

	group singleflight.Group
	now   func() time.Time
}

// NewCacheService wires the engine. A nil Metrics gets a fresh registry.
func NewCacheService(config CacheServiceConfig, deps CacheServiceDeps) *CacheService {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &CacheService{
		config:     config,
		registry:   deps.Registry,
		classifier: deps.Classifier,
		keys:       deps.Keys,
		freshness:  deps.Freshness,
		policy:     deps.Policy,
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		errorPage:  deps.ErrorPage,
		metrics:    metrics,
		logger:     deps.Logger.CacheLogger(),
		now:        time.Now,
	}
	s.refresher = NewRefresher(s.refresh, config.RefreshWorkers, config.RefreshQueue,
		config.RefreshTimeout, metrics, deps.Logger)
	return s
}

// Start launches the background refresh workers
func (s *CacheService) Start() error {
	return s.refresher.Start()
}

// Stop stops the background refresh workers
func (s *CacheService) Stop() {
	s.refresher.Stop()
}

// Metrics returns the engine's collectors
func (s *CacheService) Metrics() *Metrics {
	return s.metrics
}

// Handle processes one request and always produces a response.
func (s *CacheService) Handle(ctx context.Context, rc *domain.RequestContext) *domain.Response {
	backend := s.registry.Default()
	rc.Backend = backend

	disposition := s.classifier.Classify(rc)
	s.metrics.RecordRequest(disposition.Kind)

	log := s.logger.WithFields(map[string]interface{}{
		"request_id":  rc.RequestID,
		"method":      rc.Method,
		"uri":         rc.RequestURI(),
		"disposition": disposition.Kind.String(),
	})

	switch disposition.Kind {
	case domain.DispositionReject:
		log.WithField("status", disposition.Status).Debug("Request rejected")
		return s.synth(disposition.Status, disposition.Message)

	case domain.DispositionPurge:
		return s.purge(ctx, rc, log)
	}

	if backend == nil {
		log.Error("No backend configured")
		return s.synth(http.StatusServiceUnavailable, "")
	}
	backend.IncrementRequests()

	if disposition.Kind == domain.DispositionPassThrough {
		resp, err := s.fetcher.Fetch(ctx, backend, rc)
		if err != nil {
			log.WithError(err).Warn("Pass-through fetch failed")
			return s.synth(http.StatusServiceUnavailable, "")
		}
		return FinalizeFetch(rc, resp)
	}

	return s.lookup(ctx, rc, backend, log)
}

func (s *CacheService) lookup(ctx context.Context, rc *domain.RequestContext, backend *domain.Backend, log *logger.Logger) *domain.Response {
	key := s.keys.Build(rc)
	log = log.WithField("key", key.String())

	entry, err := s.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Store lookup failed, treating as miss")
		entry = nil
	}

	decision := s.freshness.Decide(entry, backend)
	if decision.Verdict == domain.VerdictDeliver {
		hits := entry.RecordHit()
		switch {
		case decision.Fresh:
			s.metrics.RecordLookup(LookupFresh)
		case decision.UsingGrace:
			rc.Grace = domain.GraceUsing
			s.metrics.RecordLookup(LookupGrace)
			log.Debug("Serving stale entry within grace")
		default:
			s.metrics.RecordLookup(LookupStale)
		}
		if decision.Refresh {
			s.refresher.Schedule(key, rc)
		}
		return FinalizeEntry(rc, entry, hits)
	}

	s.metrics.RecordLookup(LookupMiss)
	resp, err := s.fetchAndStore(ctx, key, rc)
	if err != nil {
		log.WithError(err).Warn("Fetch failed")
		return s.synth(http.StatusServiceUnavailable, "")
	}
	return FinalizeFetch(rc, resp)
}

func (s *CacheService) purge(ctx context.Context, rc *domain.RequestContext, log *logger.Logger) *domain.Response {
	key := s.keys.Build(rc)
	if err := s.store.Purge(ctx, key); err != nil {
		log.WithError(err).Error("Purge failed")
		return s.synth(http.StatusInternalServerError, "Purge failed")
	}
	s.metrics.Purges.Inc()
	log.WithField("key", key.String()).Info("Purged")
	return s.synth(http.StatusOK, "Purged")
}

// PurgeURI invalidates the object for requestURI on host
func (s *CacheService) PurgeURI(ctx context.Context, requestURI, host string) (domain.CacheKey, error) {
	key := s.keys.BuildFor(requestURI, host)
	if err := s.store.Purge(ctx, key); err != nil {
		return key, err
	}
	s.metrics.Purges.Inc()
	return key, nil
}

// fetchAndStore fetches rc from its backend and stores the response when
// the response policy allows. With coalescing enabled concurrent calls for
// the same key share a single fetch.
func (s *CacheService) fetchAndStore(ctx context.Context, key domain.CacheKey, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	if !s.config.Coalesce {
		return s.doFetchAndStore(ctx, key, rc)
	}

	// The shared fetch must not die with the first caller's request.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		return s.doFetchAndStore(fetchCtx, key, rc)
	})

	select {
	case <-ctx.Done():
		return nil, cerrors.WrapError(ctx.Err(), cerrors.ErrCodeFetchTimeout, "cache", "request ended while waiting for fetch")
	case res := <-ch:
		if res.Shared {
			s.metrics.Coalesced.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.OriginResponse), nil
	}
}

func (s *CacheService) doFetchAndStore(ctx context.Context, key domain.CacheKey, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	backend := rc.Backend
	if backend == nil {
		return nil, fmt.Errorf("no backend selected")
	}

	// Objects are always fetched with GET so HEAD misses store a full body.
	// One copy is stored per key, so it is fetched identity-encoded for
	// every client.
	fetchRC := *rc
	fetchRC.Method = http.MethodGet
	fetchRC.Body = nil
	fetchRC.Header = rc.Header.Clone()
	if fetchRC.Header != nil {
		fetchRC.Header.Del("Accept-Encoding")
	}

	resp, err := s.fetcher.Fetch(ctx, backend, &fetchRC)
	if err != nil {
		return nil, err
	}

	policy := s.policy.OnFetched(resp)
	out := &domain.OriginResponse{Status: resp.Status, Header: policy.Header, Body: resp.Body}

	if !policy.Cacheable {
		s.metrics.Stores.WithLabelValues("uncacheable").Inc()
		return out, nil
	}

	entry := domain.NewCacheEntry(key, out, policy.TTL, policy.Grace, s.now())
	entry.Retain = s.freshness.HealthyWindow()
	if err := s.store.Put(ctx, key, entry); err != nil {
		s.metrics.Stores.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("key", key.String()).Warn("Failed to store fetched object")
		return out, nil
	}
	s.metrics.Stores.WithLabelValues("stored").Inc()
	return out, nil
}

func (s *CacheService) refresh(ctx context.Context, key domain.CacheKey, rc *domain.RequestContext) error {
	_, err := s.fetchAndStore(ctx, key, rc)
	return err
}

// synth builds a synthetic response. Without a message the error page is
// used as the body.
func (s *CacheService) synth(status int, message string) *domain.Response {
	header := make(http.Header)
	header.Set("Cache-Control", "no-store")

	if message != "" {
		header.Set("Content-Type", "text/plain; charset=utf-8")
		return &domain.Response{Status: status, Header: header, Body: []byte(message)}
	}

	header.Set("Content-Type", "text/html; charset=utf-8")
	body, err := s.errorPage.Load()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load error page")
	}
	if len(body) == 0 {
		body = []byte(http.StatusText(status))
	}
	return &domain.Response{Status: status, Header: header, Body: body}
}

// GetStats returns engine statistics
func (s *CacheService) GetStats() map[string]interface{} {
	stats := s.metrics.GetStats()
	stats["refresh_queue_length"] = s.refresher.QueueLength()
	stats["coalesce"] = s.config.Coalesce
	return stats
}
