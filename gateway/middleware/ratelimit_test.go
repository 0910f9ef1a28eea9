package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"delphor/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("vault")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/vaults/swap", nil)
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

func TestRateLimiterSeparatesRoutesAndCallers(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault":  {RatePerSecond: 1, Burst: 1},
		"oracle": {RatePerSecond: 1, Burst: 1},
	}, nil)
	vaultHandler := limiter.Middleware("vault")(okHandler())
	oracleHandler := limiter.Middleware("oracle")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	res := httptest.NewRecorder()
	vaultHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected vault request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	oracleHandler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/prices/0", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected oracle bucket to be independent, got %d", res.Code)
	}

	caller := crypto.NewAddress(crypto.AccountPrefix, make([]byte, crypto.AddressLength))
	authed := req.WithContext(context.WithValue(req.Context(), ContextKeyCaller, caller))
	res = httptest.NewRecorder()
	vaultHandler.ServeHTTP(res, authed)
	if res.Code != http.StatusOK {
		t.Fatalf("expected authenticated caller to have its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"vault": {RatePerSecond: 1, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a", RateLimit{})
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("b", RateLimit{})
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("idle visitor not evicted")
	}
}

func TestClientIDPrefersForwardedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 192.168.1.1")
	if got := clientID(req); got != "10.0.0.7" {
		t.Fatalf("unexpected client id %q", got)
	}
}
