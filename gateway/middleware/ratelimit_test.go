package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterEnforcesBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{PerSecond: 1, Burst: 2})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/oracle/price", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusNoContent {
		t.Fatalf("first request: %d", code)
	}
	if code := send(); code != http.StatusNoContent {
		t.Fatalf("second request: %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle, got %d", code)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{PerSecond: 1, Burst: 1})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/oracle/price", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1"); code != http.StatusNoContent {
		t.Fatalf("first client: %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle for first client, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusNoContent {
		t.Fatalf("second client throttled: %d", code)
	}
}
