package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/internal/handler"
	"github.com/mir00r/grace-cache/internal/infrastructure"
	"github.com/mir00r/grace-cache/internal/middleware"
	"github.com/mir00r/grace-cache/internal/repository"
	"github.com/mir00r/grace-cache/internal/service"
	"github.com/mir00r/grace-cache/internal/storage"
	"github.com/mir00r/grace-cache/pkg/logger"
)

const version = "1.0.0"

// app holds the wired components of a running cache
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	backends    *repository.InMemoryBackendRepository
	checker     *service.HealthChecker
	store       storage.Store
	cache       *service.CacheService
	rateLimiter *middleware.RateLimiter
	handler     http.Handler
}

// buildApp wires every component described by cfg
func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.backends = repository.NewInMemoryBackendRepository()
	if err := a.backends.Save(cfg.ToBackend()); err != nil {
		return nil, fmt.Errorf("failed to register backend: %w", err)
	}

	metrics := service.NewMetrics()
	prober := infrastructure.NewHTTPProber(cfg.Hosts.Default)
	a.checker = service.NewHealthChecker(cfg.ToProbeConfig(), prober, metrics, log)

	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	a.store = store

	matcher, err := service.NewAccessMatcher(cfg.AccessLists)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid access list: %w", err)
	}

	classifier := service.NewClassifier(service.ClassifierConfig{
		CanonicalHosts: cfg.Hosts.Canonical,
		DefaultHost:    cfg.Hosts.Default,
		PurgeACL:       cfg.Cache.PurgeACL,
	}, matcher)

	retry := service.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         service.DefaultRetryPolicy().Jitter,
	}
	breaker := service.NewCircuitBreaker(service.CircuitBreakerConfig{
		Enabled:          cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
	}, log)
	fetcher := service.NewFetcher(infrastructure.NewHTTPOrigin(0), retry, breaker, metrics, log)

	a.cache = service.NewCacheService(service.CacheServiceConfig{
		Coalesce:       cfg.Cache.Coalesce,
		RefreshWorkers: cfg.Cache.RefreshWorkers,
		RefreshQueue:   cfg.Cache.RefreshQueue,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
	}, service.CacheServiceDeps{
		Registry:   a.backends,
		Classifier: classifier,
		Keys:       service.NewKeyBuilder(cfg.Server.Identity),
		Freshness:  service.NewFreshnessPolicy(cfg.Cache.HealthyWindow, a.checker),
		Policy:     service.NewResponsePolicy(cfg.Cache.TTL, cfg.EffectiveGrace(), cfg.Cache.UncacheableStatuses),
		Fetcher:    fetcher,
		Store:      store,
		ErrorPage:  infrastructure.NewFileErrorPage(cfg.ErrorPage.Path),
		Metrics:    metrics,
		Logger:     log,
	})

	a.handler, err = a.routes(metrics)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) routes(metrics *service.Metrics) (http.Handler, error) {
	router := mux.NewRouter()
	// Cache keys depend on the exact request URI
	router.SkipClean(true)

	health := handler.NewHealthHandler(version, a.backends, a.store, a.cfg.EffectiveGrace() > 0)
	router.HandleFunc("/liveness", health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readiness", health.ReadinessHandler).Methods(http.MethodGet)

	if a.cfg.Metrics.Enabled {
		router.Handle(a.cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	if a.cfg.Admin.Enabled {
		adminRouter := router.PathPrefix(a.cfg.Admin.Path).Subrouter()
		adminRouter.Use(middleware.SecurityHeadersMiddleware())
		if a.cfg.Admin.JWTSecret != "" {
			jwtAuth, err := middleware.NewJWTAuthMiddleware(a.cfg.Admin.JWTSecret, a.log)
			if err != nil {
				return nil, err
			}
			adminRouter.Use(jwtAuth.JWTAuth(), middleware.RequireScope("admin"))
		} else {
			a.log.Warn("Admin API enabled without authentication")
		}
		handler.NewAdminHandler(a.backends, a.checker, a.cache, a.cfg.Hosts.Default, a.log).RegisterRoutes(adminRouter)
	}

	router.PathPrefix("/").Handler(handler.NewProxyHandler(a.cache, a.cfg.Server.MaxBodyBytes, a.log))

	middlewares := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(a.log),
		middleware.LoggingMiddleware(a.log),
	}
	if a.cfg.RateLimit.Enabled {
		a.rateLimiter = middleware.NewRateLimiter(a.cfg.RateLimit, a.log)
		middlewares = append(middlewares, a.rateLimiter.RateLimitMiddleware())
		a.log.Info("Rate limiting enabled")
	}

	var h http.Handler = router
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h, nil
}

// start launches probing, background refreshes and store sweeps
func (a *app) start(ctx context.Context) error {
	if err := a.cache.Start(); err != nil {
		return err
	}
	if a.cfg.Probe.Enabled {
		if err := a.checker.StartChecking(ctx, a.backends.GetAll()); err != nil {
			a.cache.Stop()
			return err
		}
	} else {
		a.log.Warn("Health probing disabled, backend stays sick until probes are recorded through the admin API")
	}
	if a.rateLimiter != nil {
		go a.cleanupRateLimiter(ctx)
	}
	if sweeper, ok := a.store.(storage.Sweeper); ok {
		go storage.RunSweeper(ctx, sweeper, a.cfg.Storage.SweepInterval, a.log)
	}
	return nil
}

func (a *app) cleanupRateLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.rateLimiter.Cleanup()
		}
	}
}

// stop shuts down background work and releases the store
func (a *app) stop(ctx context.Context) {
	if err := a.checker.StopChecking(); err != nil {
		a.log.WithError(err).Error("Error stopping health checker")
	}
	a.cache.Stop()

	if tiered, ok := a.store.(*storage.TieredStore); ok {
		if err := tiered.Flush(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to flush pending store writes")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Error("Error closing store")
	}
}
