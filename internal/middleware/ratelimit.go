package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/ratelimit"
)

// LimitedFunc is called for every rejected request.
type LimitedFunc func(r *http.Request, action model.Action, key string, d ratelimit.Decision)

// RateLimit counts each request against action's budget for keyFunc(r). Every
// response carries the X-RateLimit-* pacing headers; an exhausted budget gets
// 429 with Retry-After. A limiter failure is answered with 503.
func RateLimit(limiter *ratelimit.Limiter, action model.Action, keyFunc func(*http.Request) string, onLimited LimitedFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			d, err := limiter.Check(r.Context(), key, action)
			if err != nil {
				logger.Error("rate limit check", "action", action.String(), "error", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable.")
				return
			}

			for k, v := range d.Headers() {
				w.Header().Set(k, v)
			}
			if !d.Allowed {
				if onLimited != nil {
					onLimited(r, action, key, d)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":             "rate_limited",
					"message":           "Too many requests.",
					"limit":             d.Limit,
					"remaining":         d.Remaining,
					"resetAt":           d.ResetAt.UTC(),
					"retryAfterSeconds": d.RetryAfterSeconds(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
