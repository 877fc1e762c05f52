// Package access governs contractor magic links: issuing them, deciding
// whether a presented token or slug is usable, gating scoped data behind an
// optional PIN with lockout, and recording every open.
package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/email"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/dukerupert/snaglist/internal/store"
	"github.com/dukerupert/snaglist/internal/websocket"
)

// LinkStore persists links. RecordPINFailure must increment and lock in a
// single atomic step.
type LinkStore interface {
	Create(ctx context.Context, in store.NewAccessLink) (*model.AccessLink, error)
	GetByToken(ctx context.Context, token string) (*model.AccessLink, error)
	GetBySlug(ctx context.Context, slug string) (*model.AccessLink, error)
	GetByID(ctx context.Context, id string) (*model.AccessLink, error)
	ListByCreator(ctx context.Context, createdByID string) ([]model.AccessLink, error)
	Revoke(ctx context.Context, id, createdByID string, now time.Time) (bool, error)
	Delete(ctx context.Context, id, createdByID string) (bool, error)
	RecordPINFailure(ctx context.Context, id string, maxAttempts int, lockout time.Duration, now time.Time) (store.PINFailure, error)
	ResetPINFailures(ctx context.Context, id string) error
	RecordAccess(ctx context.Context, linkID string, caller model.CallerInfo, pinVerified bool, now time.Time) (*model.AccessRecord, error)
	ListAccessRecords(ctx context.Context, linkID string, limit int) ([]model.AccessRecord, error)
}

// AuditReader reads back audit entries for owner analytics.
type AuditReader interface {
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]model.AuditEntry, error)
}

type Auditor interface {
	Record(ev audit.Event)
}

// Publisher pushes live events to an owner's connected clients.
type Publisher interface {
	Publish(ownerID string, msg websocket.Message)
}

type Notifier interface {
	SendAccessLink(ctx context.Context, m email.AccessLinkMessage) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds the link and PIN policy.
type Config struct {
	MaxPINAttempts int
	Lockout        time.Duration
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	// Hasher hashes new PINs. Existing links keep the scheme they were
	// created with.
	Hasher secure.PINHasher
}

func DefaultConfig() Config {
	return Config{
		MaxPINAttempts: 5,
		Lockout:        300 * time.Second,
		DefaultTTL:     7 * 24 * time.Hour,
		MaxTTL:         90 * 24 * time.Hour,
		Hasher:         secure.SHA256Hasher{},
	}
}

type Service struct {
	links    LinkStore
	events   AuditReader
	cfg      Config
	clock    Clock
	auditor  Auditor
	hubs     []Publisher
	notifier Notifier
	queue    *dispatch.Queue
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := DefaultConfig()
		if cfg.MaxPINAttempts <= 0 {
			cfg.MaxPINAttempts = def.MaxPINAttempts
		}
		if cfg.Lockout <= 0 {
			cfg.Lockout = def.Lockout
		}
		if cfg.DefaultTTL <= 0 {
			cfg.DefaultTTL = def.DefaultTTL
		}
		if cfg.MaxTTL <= 0 {
			cfg.MaxTTL = def.MaxTTL
		}
		if cfg.Hasher == nil {
			cfg.Hasher = def.Hasher
		}
		s.cfg = cfg
	}
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithAuditReader(r AuditReader) Option {
	return func(s *Service) { s.events = r }
}

// WithPublisher adds a live event sink. Every sink receives every event.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.hubs = append(s.hubs, p) }
}

// WithNotifier sends contractor emails through queue.
func WithNotifier(n Notifier, queue *dispatch.Queue) Option {
	return func(s *Service) {
		s.notifier = n
		s.queue = queue
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(links LinkStore, opts ...Option) *Service {
	s := &Service{
		links:  links,
		cfg:    DefaultConfig(),
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective policy.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) record(ev audit.Event) {
	if s.auditor != nil {
		s.auditor.Record(ev)
	}
}

func (s *Service) publish(ownerID, typ, linkID string, extra map[string]any) {
	if len(s.hubs) == 0 || ownerID == "" {
		return
	}
	msg := websocket.NewMessage(typ, linkID, s.now(), extra)
	for _, h := range s.hubs {
		h.Publish(ownerID, msg)
	}
}
