package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rwastaking/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesAccounts(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	for _, name := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/positions/a/claim", nil)
		req = req.WithContext(WithCaller(req.Context(), crypto.ModuleAddress("test/"+name)))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected success, got %d", name, res.Code)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("expected first request allowed")
	}
	now = now.Add(10 * time.Minute)
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("expected other client allowed")
	}
	if _, ok := limiter.visitors["10.0.0.1"]; ok {
		t.Fatalf("idle visitor not swept")
	}
}

func TestClientIDPrefersForwardedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("unexpected client id %s", got)
	}
}
