package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestLoggingMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	handler := LoggingMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestLoggingMiddlewareKeepsClientRequestID(t *testing.T) {
	handler := LoggingMiddleware(logger.NewNop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 2}, logger.NewNop())
	handler := rl.RateLimitMiddleware()(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"), "port does not split the bucket")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))

	assert.Equal(t, 2, rl.GetStats()["active_clients"])
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10}, logger.NewNop())
	current := time.Unix(1000, 0)
	rl.now = func() time.Time { return current }

	rl.Allow("a")
	current = current.Add(time.Hour)
	rl.Allow("b")

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.GetStats()["active_clients"])
}

func TestJWTAuth(t *testing.T) {
	_, err := NewJWTAuthMiddleware("", logger.NewNop())
	require.Error(t, err)

	jm, err := NewJWTAuthMiddleware("s3cret", logger.NewNop())
	require.NoError(t, err)

	var subject string
	handler := jm.JWTAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			subject = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	send := func(auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(""))
	assert.Equal(t, http.StatusUnauthorized, send("Bearer not-a-token"))

	token, err := jm.IssueToken("ops", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, send("Bearer "+token))
	assert.Equal(t, "ops", subject)

	expired, err := jm.IssueToken("ops", nil, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+expired))

	other, err := NewJWTAuthMiddleware("different", logger.NewNop())
	require.NoError(t, err)
	forged, err := other.IssueToken("ops", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+forged))
}

func TestJWTRejectsTokenWithoutExpiry(t *testing.T) {
	jm, err := NewJWTAuthMiddleware("s3cret", logger.NewNop())
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = jm.ValidateToken(token)
	assert.Error(t, err)
}

func TestRequireScope(t *testing.T) {
	jm, err := NewJWTAuthMiddleware("s3cret", logger.NewNop())
	require.NoError(t, err)
	handler := jm.JWTAuth()(RequireScope("purge")(okHandler()))

	send := func(scopes []string) int {
		token, err := jm.IssueToken("ops", scopes, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(nil))
	assert.Equal(t, http.StatusOK, send([]string{"read", "purge"}))
	assert.Equal(t, http.StatusForbidden, send([]string{"read"}))
}
