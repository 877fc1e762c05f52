package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/auth"
	"github.com/dukerupert/snaglist/internal/backup"
	"github.com/dukerupert/snaglist/internal/handler"
	"github.com/dukerupert/snaglist/internal/middleware"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/ratelimit"
	ws "github.com/dukerupert/snaglist/internal/websocket"
)

type Config struct {
	BaseURL        string
	OriginPatterns []string
	RequestTimeout time.Duration
	// TrustedProxies may report the client address in forwarding headers.
	TrustedProxies []netip.Prefix
}

type Server struct {
	cfg      Config
	hub      *ws.Hub
	limiter  *ratelimit.Limiter
	verifier *auth.JWT
	auditor  access.Auditor
	publicH  *handler.PublicHandler
	linkH    *handler.LinkHandler
	backups  *backup.Manager
	pushH    *handler.PushHandler
	logger   *slog.Logger
}

type Option func(*Server)

// WithBackups reports snapshot status on /health.
func WithBackups(m *backup.Manager) Option {
	return func(s *Server) { s.backups = m }
}

// WithPush mounts the browser subscription routes.
func WithPush(h *handler.PushHandler) Option {
	return func(s *Server) { s.pushH = h }
}

// New builds the HTTP surface. auditor may be nil.
func New(svc *access.Service, limiter *ratelimit.Limiter, verifier *auth.JWT, hub *ws.Hub, auditor access.Auditor, cfg Config, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		limiter:  limiter,
		verifier: verifier,
		auditor:  auditor,
		publicH:  handler.NewPublicHandler(svc, logger.With("component", "public")),
		linkH:    handler.NewLinkHandler(svc, cfg.BaseURL, logger.With("component", "links")),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Contractor routes, limited by client IP
	mux.Handle("GET /l/{token}", s.public(model.ActionTokenLookup, s.publicH.Validate))
	mux.Handle("GET /s/{slug}", s.public(model.ActionTokenLookup, s.publicH.Resolve))
	mux.Handle("POST /l/{token}/pin", s.public(model.ActionPINAttempt, s.publicH.VerifyPIN))

	// Owner API
	mux.Handle("POST /api/links", s.owner(s.linkH.Create))
	mux.Handle("GET /api/links", s.owner(s.linkH.List))
	mux.Handle("GET /api/links/{id}", s.owner(s.linkH.Get))
	mux.Handle("POST /api/links/{id}/revoke", s.owner(s.linkH.Revoke))
	mux.Handle("DELETE /api/links/{id}", s.owner(s.linkH.Delete))
	mux.Handle("GET /api/links/{id}/analytics", s.owner(s.linkH.Analytics))
	if s.pushH != nil {
		mux.Handle("GET /api/push/vapid-key", s.owner(s.pushH.GetVAPIDKey))
		mux.Handle("POST /api/push/subscriptions", s.owner(s.pushH.Subscribe))
		mux.Handle("GET /api/push/subscriptions", s.owner(s.pushH.ListSubscriptions))
		mux.Handle("DELETE /api/push/subscriptions/{id}", s.owner(s.pushH.Unsubscribe))
	}
	// The live feed outlives any request timeout.
	mux.Handle("GET /ws", s.ownerStream(ws.HandleWebSocket(s.hub, s.cfg.OriginPatterns, s.logger.With("component", "websocket"))))

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(mux)
	return middleware.RequestID(middleware.ClientIP(s.cfg.TrustedProxies)(logged))
}

func (s *Server) public(action model.Action, h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.limiter, action, middleware.RealIP, s.onLimited, s.logger.With("component", "ratelimit"))
	return middleware.Timeout(s.cfg.RequestTimeout)(rl(h))
}

func (s *Server) owner(h http.HandlerFunc) http.Handler {
	return middleware.Timeout(s.cfg.RequestTimeout)(s.ownerStream(h))
}

func (s *Server) ownerStream(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.limiter, model.ActionAPICall, middleware.OwnerKey, s.onLimited, s.logger.With("component", "ratelimit"))
	return middleware.RequireOwner(s.verifier)(rl(h))
}

func (s *Server) onLimited(r *http.Request, action model.Action, key string, d ratelimit.Decision) {
	s.logger.Warn("rate limited", "action", action.String(), "key", key, "retry_after", d.RetryAfterSeconds())
	if s.auditor == nil {
		return
	}
	s.auditor.Record(audit.Event{
		Kind:   model.EventRateLimited,
		Caller: model.CallerInfo{IP: middleware.RealIP(r), UserAgent: r.UserAgent()},
		Detail: fmt.Sprintf("action=%s key=%s limit=%d", action, key, d.Limit),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "live_clients": s.hub.ClientCount()}
	if s.backups != nil {
		// Error text can name buckets and paths; it stays in the logs.
		resp["backup"] = s.backups.Status().State
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
