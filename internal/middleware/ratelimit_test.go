package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/database"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/ratelimit"
	"github.com/dukerupert/snaglist/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupLimiter(t *testing.T, opts ...ratelimit.Option) *ratelimit.Limiter {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return ratelimit.NewLimiter(store.NewRateLimitStore(db), opts...)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := setupLimiter(t, ratelimit.WithPolicy(model.ActionPINAttempt, ratelimit.Policy{Limit: 2, Window: time.Minute}))

	var limitedKey string
	onLimited := func(r *http.Request, action model.Action, key string, d ratelimit.Decision) {
		limitedKey = key
	}
	handler := RateLimit(limiter, model.ActionPINAttempt, RealIP, onLimited, testLogger())(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("missing reset header")
		}
	}

	req := httptest.NewRequest("POST", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "rate_limited" || body["retryAfterSeconds"] != float64(60) {
		t.Errorf("body = %v", body)
	}
	if limitedKey != "192.0.2.1" {
		t.Errorf("limited key = %q", limitedKey)
	}
}

type brokenStore struct{}

func (brokenStore) IncrementIfBelow(context.Context, string, model.Action, int, time.Duration, time.Time) (model.RateLimitCounter, error) {
	return model.RateLimitCounter{}, errors.New("database is locked")
}

func (brokenStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func TestRateLimitStoreFailure(t *testing.T) {
	limiter := ratelimit.NewLimiter(brokenStore{})
	handler := RateLimit(limiter, model.ActionTokenLookup, RealIP, nil, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
