package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestLimiterAllow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRequestLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request within interval should be rejected")
	}

	// Independent keys have independent buckets.
	if !rl.Allow("b") {
		t.Error("different key should have a fresh bucket")
	}

	// The bucket refills after the interval.
	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Error("request after interval should pass")
	}
}

func TestRequestLimiterEviction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRequestLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }
	rl.maxBuckets = 3

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c")

	// All three buckets go stale; the next new key triggers eviction
	// instead of unbounded growth.
	now = now.Add(3 * time.Minute)
	rl.Allow("d")
	if len(rl.buckets) > 2 {
		t.Errorf("bucket count = %d after eviction, want <= 2", len(rl.buckets))
	}
}

func TestRequestLimiterMiddleware(t *testing.T) {
	rl := NewRequestLimiter(1, time.Minute)
	handler := rl.Middleware(ClientKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	hit := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := hit(); rec.Code != http.StatusOK {
		t.Fatalf("first request returned %d", rec.Code)
	}
	rec := hit()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request returned %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want %q", rec.Header().Get("Retry-After"), "60")
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.10:43210",
			want:       "192.168.1.10",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for chain takes first",
			remoteAddr: "10.0.0.1:1",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.3"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:1",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "unparseable remote addr passes through",
			remoteAddr: "weird-value",
			want:       "weird-value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientKey(req); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
