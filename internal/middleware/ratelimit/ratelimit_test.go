package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func do(h http.Handler, method, path, remote string) int {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 3})
	defer l.Stop()
	h := l.Middleware()(ok)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/runs", "203.0.113.1:1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/v1/runs", "203.0.113.1:1"))

	// Another client has its own bucket
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/runs", "203.0.113.2:1"))
}

func TestLimiter_WritesHaveOwnBudget(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 600, WritesPerMin: 6, BurstSize: 1})
	defer l.Stop()
	h := l.Middleware()(ok)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/v1/reconcile", "203.0.113.1:1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", nil)
	req.RemoteAddr = "203.0.113.1:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Reads are unaffected by the exhausted write budget
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/runs", "203.0.113.1:1"))
}

func TestLimiter_ExemptPaths(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 1, BurstSize: 1})
	defer l.Stop()
	h := l.Middleware()(ok)

	for _, path := range []string{"/health", "/healthz", "/readyz", "/metrics"} {
		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, do(h, http.MethodGet, path, "203.0.113.1:1"), path)
		}
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	h := Middleware(Config{Enabled: false, RequestsPerMin: 1, BurstSize: 1})(ok)
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/runs", "203.0.113.1:1"))
	}
}

func TestLimiter_Evict(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 1, CleanupMinutes: 1})
	defer l.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("a", false)
	l.Allow("b", true)
	require.Equal(t, 2, l.size())

	now = now.Add(30 * time.Second)
	l.Allow("b", true)
	now = now.Add(45 * time.Second)
	l.evict()
	assert.Equal(t, 1, l.size())
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 6000, BurstSize: 100})
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("203.0.113.1", false) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
	l.Stop()
	l.Stop()
}
