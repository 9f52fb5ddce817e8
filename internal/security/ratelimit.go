package security

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RequestLimiter is a per-client token bucket guarding the gateway's HTTP
// surface. It sits in front of the pairing guard so an unauthenticated
// flood cannot burn CPU on hash checks. The ActionTracker handles the
// per-action budgets; this limiter only bounds raw request rates.
type RequestLimiter struct {
	mu         sync.Mutex
	rate       int
	interval   time.Duration
	buckets    map[string]*bucket
	maxBuckets int
	now        func() time.Time
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRequestLimiter allows rate requests per interval for each client key.
func NewRequestLimiter(rate int, interval time.Duration) *RequestLimiter {
	return &RequestLimiter{
		rate:       rate,
		interval:   interval,
		buckets:    make(map[string]*bucket),
		maxBuckets: 10000, // bound memory under key churn
		now:        time.Now,
	}
}

// Allow reports whether a request from the given client key may proceed.
func (rl *RequestLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	b, exists := rl.buckets[key]
	if !exists {
		if len(rl.buckets) >= rl.maxBuckets {
			rl.evictStale(now)
		}
		rl.buckets[key] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(b.lastReset) >= rl.interval {
		b.tokens = rl.rate - 1
		b.lastReset = now
		return true
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// evictStale removes buckets idle for more than two intervals.
func (rl *RequestLimiter) evictStale(now time.Time) {
	cutoff := now.Add(-2 * rl.interval)
	for key, b := range rl.buckets {
		if b.lastReset.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Middleware applies the limiter to an HTTP handler, keying each request
// with keyFunc. Rejected requests get a 429 with a Retry-After hint.
func (rl *RequestLimiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(keyFunc(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.interval.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey derives the limiter key for a request: the client IP, honoring
// the proxy headers the deployment's ingress sets. Authenticated identity
// keys are applied further down the chain by the pairing guard.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if comma := strings.IndexByte(xff, ','); comma != -1 {
			return strings.TrimSpace(xff[:comma])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
