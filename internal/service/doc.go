/*
Package service implements the request-caching decision engine.

The package sits between the domain layer and the infrastructure adapters. It
decides, for every inbound request, whether to serve from cache, serve stale
content, forward to the origin or reject, and keeps the backend health state
those decisions depend on.

Key Components:

CacheService:
The orchestrator. It classifies the request, builds the cache key, consults
the store and the freshness policy, and fetches on a miss.

	cache := service.NewCacheService(
		service.CacheServiceConfig{Coalesce: true, RefreshWorkers: 4, RefreshQueue: 256},
		service.CacheServiceDeps{
			Registry:   backendRepository,
			Classifier: classifier,
			Keys:       service.NewKeyBuilder("grace-cache"),
			Freshness:  service.NewFreshnessPolicy(20*time.Second, healthChecker),
			Policy:     service.NewResponsePolicy(24*time.Hour, 24*time.Hour, nil),
			Fetcher:    fetcher,
			Store:      store,
			ErrorPage:  errorPage,
			Logger:     log,
		},
	)

	if err := cache.Start(); err != nil {
		log.Fatal("Failed to start refresh workers:", err)
	}
	resp := cache.Handle(ctx, domain.NewRequestContext(r, body))

Classifier:
Normalises the host, gates PURGE through an access list, rejects unknown
methods and passes everything but GET and HEAD straight to the origin.

	matcher, _ := service.NewAccessMatcher(map[string][]string{
		"purge": {"localhost", "192.168.56.0/24"},
	})
	classifier := service.NewClassifier(service.ClassifierConfig{
		CanonicalHosts: []string{"example.com", "www.example.com"},
		DefaultHost:    "www.example.com",
		PurgeACL:       "purge",
	}, matcher)

FreshnessPolicy:
Fresh entries are delivered. Stale entries are delivered for a short window
while the backend is healthy (and refreshed in the background), or for the
entry's full grace while it is sick.

HealthChecker:
Probes each backend on its own ticker and records outcomes in the backend's
health window. Reads never block on a probe.

	healthChecker := service.NewHealthChecker(probeConfig, prober, metrics, log)
	healthChecker.StartChecking(ctx, backendRepository.GetAll())
	defer healthChecker.StopChecking()

Fetcher:
Wraps the origin with an injectable RetryPolicy and an optional
CircuitBreaker. UnboundedRetryPolicy retries forever.

Refresher:
A fixed pool of workers fed by a bounded queue. Jobs that do not fit are
dropped; the stale entry keeps being served until the next attempt.

Metrics:
Prometheus collectors on a private registry, exposed through Handler.
*/
package service
