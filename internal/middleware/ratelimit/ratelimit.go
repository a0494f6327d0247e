// Package ratelimit provides per-client token bucket rate limiting. Write
// requests, which start reconciliation runs against the RPC endpoint and
// the explorer, draw from a separate and smaller budget.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/deployrecon/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled bool
	// RequestsPerMin is the read budget per client
	RequestsPerMin int
	BurstSize      int
	// WritesPerMin is the budget for non-GET requests per client;
	// zero uses a tenth of RequestsPerMin
	WritesPerMin int
	// CleanupMinutes is how long an idle client is remembered
	CleanupMinutes int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketKey struct {
	client string
	write  bool
}

// Limiter tracks token buckets per client.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	read    rate.Limit
	write   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a Limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	writes := cfg.WritesPerMin
	if writes <= 0 {
		writes = max(cfg.RequestsPerMin/10, 1)
	}
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	l := &Limiter{
		buckets: make(map[bucketKey]*bucket),
		read:    rate.Limit(float64(cfg.RequestsPerMin) / 60),
		write:   rate.Limit(float64(writes) / 60),
		burst:   max(cfg.BurstSize, 1),
		idle:    idle,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.loop()
	return l
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) loop() {
	t := time.NewTicker(l.idle)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.evict()
		case <-l.stop:
			return
		}
	}
}

// evict forgets clients idle for longer than the cleanup interval.
func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string, write bool) bool {
	l.mu.Lock()
	k := bucketKey{client: client, write: write}
	b, ok := l.buckets[k]
	if !ok {
		limit := l.read
		if write {
			limit = l.write
		}
		b = &bucket{limiter: rate.NewLimiter(limit, l.burst)}
		l.buckets[k] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// exempt paths are probes and scrapes.
var exempt = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware rejects requests over budget with 429.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			write := r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
			if !l.Allow(realip.ClientIP(r), write) {
				retry := time.Minute
				if write {
					retry = time.Duration(float64(time.Second) / float64(l.write))
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(max(int(retry.Seconds()), 1)))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware returns a no-op when rate limiting is disabled. The limiter's
// cleanup loop runs for the life of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return New(cfg).Middleware()
}
