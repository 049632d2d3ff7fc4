package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/internal/repository"
	"github.com/mir00r/grace-cache/internal/service"
	"github.com/mir00r/grace-cache/pkg/logger"
)

var testProbe = domain.ProbeConfig{
	Path: "/health", ExpectedStatus: http.StatusOK, Timeout: time.Second, Interval: time.Second, Window: 3, Threshold: 2,
}

type recordingEngine struct {
	mu   sync.Mutex
	last *domain.RequestContext
	resp *domain.Response
}

func (e *recordingEngine) Handle(_ context.Context, rc *domain.RequestContext) *domain.Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = rc
	return e.resp
}

type stubProber struct{ status int }

func (p stubProber) Send(context.Context, *domain.Backend, string, time.Duration) (int, error) {
	return p.status, nil
}

type fakeCacheAdmin struct {
	uri, host string
}

func (c *fakeCacheAdmin) PurgeURI(_ context.Context, uri, host string) (domain.CacheKey, error) {
	c.uri, c.host = uri, host
	return service.NewKeyBuilder("test").BuildFor(uri, host), nil
}

func (c *fakeCacheAdmin) GetStats() map[string]interface{} {
	return map[string]interface{}{"total_requests": int64(3)}
}

type countStore int

func (c countStore) Len() int { return int(c) }

func TestProxyHandlerWritesEngineResponse(t *testing.T) {
	header := http.Header{}
	header.Set("X-Cache", "HIT")
	engine := &recordingEngine{resp: &domain.Response{Status: http.StatusOK, Header: header, Body: []byte("cached")}}
	handler := NewProxyHandler(engine, 1024, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/form?a=1", strings.NewReader("field=1"))
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))

	require.NotNil(t, engine.last)
	assert.Equal(t, "field=1", string(engine.last.Body))
	assert.Equal(t, "/form?a=1", engine.last.RequestURI())
	assert.Equal(t, "203.0.113.9", engine.last.ClientIdentity)
}

func TestProxyHandlerRejectsLargeBody(t *testing.T) {
	engine := &recordingEngine{resp: &domain.Response{Status: http.StatusOK}}
	handler := NewProxyHandler(engine, 4, logger.NewNop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too large")))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, engine.last)
}

func newAdminRouter(t *testing.T) (*mux.Router, *repository.InMemoryBackendRepository, *fakeCacheAdmin) {
	t.Helper()
	repo := repository.NewInMemoryBackendRepository()
	require.NoError(t, repo.Save(domain.NewBackend("origin", "127.0.0.1", 8081, testProbe)))

	checker := service.NewHealthChecker(testProbe, stubProber{status: http.StatusOK}, nil, logger.NewNop())
	cache := &fakeCacheAdmin{}
	router := mux.NewRouter()
	NewAdminHandler(repo, checker, cache, "www.example.com", logger.NewNop()).RegisterRoutes(router)
	return router, repo, cache
}

func serve(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminListBackends(t *testing.T) {
	router, _, _ := newAdminRouter(t)

	rec := serve(router, http.MethodGet, "/backends", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var backends []BackendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backends))
	require.Len(t, backends, 1)
	assert.Equal(t, "origin", backends[0].ID)
	assert.Equal(t, "sick", backends[0].Status)
}

func TestAdminProbeAndHealth(t *testing.T) {
	router, repo, _ := newAdminRouter(t)

	rec := serve(router, http.MethodPost, "/backends/origin/probe", `{"healthy": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var probe ProbeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.True(t, probe.Manual)
	assert.True(t, probe.Outcome)
	assert.False(t, probe.Window.Healthy, "one good sample is below the threshold")

	rec = serve(router, http.MethodPost, "/backends/origin/probe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.False(t, probe.Manual)
	assert.True(t, probe.Outcome)
	assert.True(t, probe.Window.Healthy)

	rec = serve(router, http.MethodGet, "/backends/origin/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot domain.WindowSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 2, snapshot.Good)
	assert.True(t, snapshot.Healthy)

	backend, err := repo.GetByID("origin")
	require.NoError(t, err)
	assert.True(t, backend.IsHealthy())
}

func TestAdminUnknownBackend(t *testing.T) {
	router, _, _ := newAdminRouter(t)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/backends/nope/health", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/backends/nope/probe", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/backends/origin/probe", "{").Code)
}

func TestAdminPurge(t *testing.T) {
	router, _, cache := newAdminRouter(t)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodDelete, "/cache", "").Code)

	rec := serve(router, http.MethodDelete, "/cache?url=%2Fnews%3Fpage%3D2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/news?page=2", cache.uri)
	assert.Equal(t, "www.example.com", cache.host)

	var purge PurgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purge))
	assert.Len(t, purge.Key, 64)

	rec = serve(router, http.MethodDelete, "/cache?url=/a&host=static.example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "static.example.com", cache.host)
}

func TestAdminStats(t *testing.T) {
	router, _, _ := newAdminRouter(t)

	rec := serve(router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats["total_requests"])
	assert.Contains(t, stats, "uptime")
	assert.Contains(t, stats["backends"], "origin")
	registry, ok := stats["registry"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, registry["total_backends"])
	assert.EqualValues(t, 0, registry["healthy_backends"])
}

func TestReadiness(t *testing.T) {
	repo := repository.NewInMemoryBackendRepository()

	ready := func(store ObjectCounter, grace bool) (int, string) {
		rec := httptest.NewRecorder()
		NewHealthHandler("test", repo, store, grace).ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body["status"].(string)
	}

	code, _ := ready(countStore(0), true)
	assert.Equal(t, http.StatusServiceUnavailable, code, "no backend")

	backend := domain.NewBackend("origin", "127.0.0.1", 8081, testProbe)
	require.NoError(t, repo.Save(backend))

	code, _ = ready(countStore(0), true)
	assert.Equal(t, http.StatusServiceUnavailable, code, "sick backend and nothing to serve")

	code, status := ready(countStore(5), true)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", status)

	code, _ = ready(countStore(5), false)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	backend.Window().Record(true)
	backend.Window().Record(true)
	code, status = ready(countStore(0), false)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status)
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("test", repository.NewInMemoryBackendRepository(), nil, false).
		LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
