package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(globalRPS, consumerRPS, unauthRPS int) *InMemoryRateLimiter {
	return NewInMemoryRateLimiter(&Config{
		GlobalRPS:    globalRPS,
		ConsumerRPS:  consumerRPS,
		UnAuthRPS:    unauthRPS,
		MaxConsumers: maxConsumers,
	})
}

// ==============================================================================
// Unit Tests: Token bucket tiers
// ==============================================================================

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(100, 10, 5)
	defer rl.Close()

	// Burst is 2x the rate.
	for i := range 20 {
		if !rl.Allow("scraper") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}

	if rl.Allow("scraper") {
		t.Error("request above burst allowed")
	}
}

func TestRateLimiterIsolatesConsumers(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(1000, 5, 5)
	defer rl.Close()

	for range 10 {
		rl.Allow("greedy")
	}

	if rl.Allow("greedy") {
		t.Error("exhausted consumer still allowed")
	}

	if !rl.Allow("patient") {
		t.Error("fresh consumer rejected because another consumer spent its budget")
	}
}

func TestRateLimiterUnauthenticatedTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(1000, 100, 2)
	defer rl.Close()

	for range 4 {
		rl.Allow("")
	}

	if rl.Allow("") {
		t.Error("anonymous request above burst allowed")
	}

	// Authenticated traffic has its own budget.
	if !rl.Allow("scraper") {
		t.Error("authenticated request rejected by anonymous tier")
	}
}

func TestRateLimiterGlobalTierCapsEverything(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(1, 1000, 1000)
	defer rl.Close()

	allowed := 0

	for i := range 10 {
		if rl.Allow("consumer-" + string(rune('a'+i))) {
			allowed++
		}
	}

	if allowed > 2 {
		t.Errorf("global tier admitted %d requests, want at most burst of 2", allowed)
	}
}

func TestRateLimiterCleanupRemovesIdleConsumers(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(1000, 10, 10)
	defer rl.Close()

	rl.Allow("ephemeral")
	rl.idleTimeout = time.Nanosecond

	time.Sleep(time.Millisecond)
	rl.cleanup()

	rl.mu.RLock()
	_, exists := rl.perConsumer["ephemeral"]
	rl.mu.RUnlock()

	if exists {
		t.Error("idle consumer limiter not reaped")
	}
}

// ==============================================================================
// Unit Tests: Middleware behaviour
// ==============================================================================

// denyAll rejects every request.
type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handler := RateLimit(denyAll{}, slog.Default())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	if got := rec.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestRateLimitMiddlewareUsesConsumerOwner(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(1000, 1, 1000)
	defer rl.Close()

	handler := RateLimit(rl, slog.Default())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	request := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		req = req.WithContext(SetConsumerContext(req.Context(), ConsumerContext{Owner: "dash"}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	// Burst of 2 for ConsumerRPS 1.
	if request() != http.StatusOK || request() != http.StatusOK {
		t.Fatal("requests within burst rejected")
	}

	if request() != http.StatusTooManyRequests {
		t.Error("request above consumer burst not limited")
	}
}
