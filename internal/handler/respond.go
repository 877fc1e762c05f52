package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/middleware"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeServiceError renders an error returned by access.Service. Only input
// and ownership errors are expected here; anything else is a backend failure.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Link not found.")
	case errors.Is(err, access.ErrUnavailable), errors.Is(err, secure.ErrRandomSourceUnavailable):
		logger.Error(op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable.")
	default:
		logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
	}
}

// statusCode maps a link state to its HTTP status.
func statusCode(s access.Status) int {
	switch s {
	case access.StatusActive:
		return http.StatusOK
	case access.StatusNotFound:
		return http.StatusNotFound
	case access.StatusRevoked, access.StatusExpired:
		return http.StatusGone
	case access.StatusLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if s := retryAfterSeconds(d); s > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(s))
	}
}

func callerInfo(r *http.Request) model.CallerInfo {
	return model.CallerInfo{IP: middleware.RealIP(r), UserAgent: r.UserAgent()}
}
