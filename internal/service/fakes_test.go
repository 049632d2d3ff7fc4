package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

var testProbe = domain.ProbeConfig{
	Path:           "/health",
	ExpectedStatus: http.StatusOK,
	Timeout:        time.Second,
	Interval:       10 * time.Millisecond,
	Window:         5,
	Threshold:      3,
}

func newTestBackend() *domain.Backend {
	return domain.NewBackend("origin", "127.0.0.1", 8081, testProbe)
}

func markHealthy(b *domain.Backend) {
	for i := 0; i < testProbe.Window; i++ {
		b.Window().Record(true)
	}
}

type memStore struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]*domain.CacheEntry
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[domain.CacheKey]*domain.CacheEntry)}
}

func (s *memStore) Get(_ context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entries[key], nil
}

func (s *memStore) Put(_ context.Context, key domain.CacheKey, entry *domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *memStore) Purge(_ context.Context, key domain.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fakeOrigin answers every fetch with the configured response and tracks
// how many fetches are running at once.
type fakeOrigin struct {
	status int
	header http.Header
	body   string
	delay  time.Duration
	// failures is the number of leading calls that fail
	failures int32

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu        sync.Mutex
	methods   []string
	hosts     []string
	encodings []string
}

func (o *fakeOrigin) Fetch(ctx context.Context, _ *domain.Backend, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	n := o.calls.Add(1)

	cur := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		peak := o.maxInFlight.Load()
		if cur <= peak || o.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	o.mu.Lock()
	o.methods = append(o.methods, rc.Method)
	o.hosts = append(o.hosts, rc.Host)
	o.encodings = append(o.encodings, rc.Header.Get("Accept-Encoding"))
	o.mu.Unlock()

	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n <= o.failures {
		return nil, errors.New("connection refused")
	}

	status := o.status
	if status == 0 {
		status = http.StatusOK
	}
	header := o.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &domain.OriginResponse{Status: status, Header: header, Body: []byte(o.body)}, nil
}

type fakeProber struct {
	status atomic.Int32
	err    error
	calls  atomic.Int32
}

func (p *fakeProber) Send(context.Context, *domain.Backend, string, time.Duration) (int, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return int(p.status.Load()), nil
}

type staticErrorPage string

func (p staticErrorPage) Load() ([]byte, error) {
	return []byte(p), nil
}

type fixedRegistry struct {
	backend *domain.Backend
}

func (r fixedRegistry) Default() *domain.Backend {
	return r.backend
}

// testEngine bundles a CacheService with its fakes
type testEngine struct {
	service *CacheService
	store   *memStore
	origin  *fakeOrigin
	backend *domain.Backend
	metrics *Metrics
}

func newTestEngine(origin *fakeOrigin, coalesce bool) *testEngine {
	store := newMemStore()
	e := newTestEngineWithStore(origin, coalesce, store,
		NewResponsePolicy(DefaultObjectLifetime, DefaultObjectLifetime, nil))
	e.store = store
	return e
}

// newTestEngineWithStore builds an engine over store. The returned
// testEngine has a nil memStore.
func newTestEngineWithStore(origin *fakeOrigin, coalesce bool, store domain.Store, policy *ResponsePolicy) *testEngine {
	log := logger.NewNop()
	backend := newTestBackend()
	metrics := NewMetrics()

	matcher, err := NewAccessMatcher(map[string][]string{
		"purge": {"localhost", "127.0.0.1", "192.168.56.0/24"},
	})
	if err != nil {
		panic(err)
	}
	classifier := NewClassifier(ClassifierConfig{
		CanonicalHosts: []string{"example.com", "www.example.com"},
		DefaultHost:    "www.example.com",
		PurgeACL:       "purge",
	}, matcher)

	retry := DefaultRetryPolicy()
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond

	svc := NewCacheService(
		CacheServiceConfig{Coalesce: coalesce, RefreshWorkers: 2, RefreshQueue: 8, RefreshTimeout: time.Second},
		CacheServiceDeps{
			Registry:   fixedRegistry{backend: backend},
			Classifier: classifier,
			Keys:       NewKeyBuilder("test-identity"),
			Freshness:  NewFreshnessPolicy(DefaultHealthyWindow, NewHealthChecker(testProbe, &fakeProber{}, nil, log)),
			Policy:     policy,
			Fetcher:    NewFetcher(origin, retry, nil, metrics, log),
			Store:      store,
			ErrorPage:  staticErrorPage("<h1>unavailable</h1>"),
			Metrics:    metrics,
			Logger:     log,
		},
	)

	return &testEngine{service: svc, origin: origin, backend: backend, metrics: metrics}
}

func newRequest(method, target, host, remote string) *domain.RequestContext {
	r, _ := http.NewRequest(method, target, nil)
	r.Host = host
	r.RemoteAddr = remote
	return domain.NewRequestContext(r, nil)
}
