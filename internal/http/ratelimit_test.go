package httpapi

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterRefillsPerWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	t.Cleanup(rl.Stop)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two runs must be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("third run inside the window must be refused")
	}
	if !rl.Allow("b") {
		t.Fatal("clients have separate buckets")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("bucket must refill after the window")
	}

	now = now.Add(2 * time.Hour)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("idle buckets kept: %d", n)
	}
}

func TestRecommendRoutesAreLimited(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, nil, log.New(io.Discard, "", 0))
	srv.Limiter = NewRateLimiter(1, time.Hour)
	t.Cleanup(srv.Limiter.Stop)
	// httptest requests come from 192.0.2.1.
	srv.Limiter.Allow("192.0.2.1")

	for _, path := range []string{"/recommend", "/sessions/7a0c2f55-3f5e-4d2b-9a4e-2b1f1c9d8e01/recommend"} {
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: status=%d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "rate_limited") {
			t.Fatalf("%s: body=%s", path, rr.Body.String())
		}
	}

	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health must not be limited: %d", rr.Code)
	}
}
