package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("expected other client to have its own bucket")
	}

	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatalf("expected a token after refill")
	}
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.Allow("idle")
	now = now.Add(rateLimitIdleAfter + rateLimitSweepEvery)
	rl.Allow("fresh")

	if _, ok := rl.buckets["idle"]; ok {
		t.Fatalf("expected idle bucket to be evicted")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimit(0.001, 1)
	handler := mw(okHandler(nil))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/leads", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0, 0)(okHandler(nil))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected no limiting, got %d", rec.Code)
		}
	}
}
