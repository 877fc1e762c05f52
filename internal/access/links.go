package access

import (
	"context"
	"strings"
	"time"

	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/email"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/dukerupert/snaglist/internal/store"
	"github.com/dukerupert/snaglist/internal/websocket"
)

// CreateParams describes a new link.
type CreateParams struct {
	AccessLevel  model.AccessLevel
	ProjectID    string
	ContractorID string
	// ContractorEmail, when set, receives the link by email.
	ContractorEmail string
	SnagIDs         []string
	// ExpiresAt defaults to now + TTL, or now + DefaultTTL when TTL is zero.
	ExpiresAt time.Time
	TTL       time.Duration
	// PIN is optional; when set it must be 4 to 8 digits.
	PIN      string
	WithSlug bool
	SlugHint string
}

// Create issues a link owned by ownerID. The returned link carries the
// plaintext token; it is not retrievable again.
func (s *Service) Create(ctx context.Context, ownerID string, p CreateParams) (*model.AccessLink, error) {
	now := s.now()
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("owner is required")
	}
	if !p.AccessLevel.Valid() {
		return nil, invalid("access level must be view, update or full")
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, invalid("project_id is required")
	}
	if p.TTL < 0 {
		return nil, invalid("ttl must be positive")
	}
	if p.ExpiresAt.IsZero() {
		ttl := p.TTL
		if ttl == 0 {
			ttl = s.cfg.DefaultTTL
		}
		p.ExpiresAt = now.Add(ttl)
	}
	if !p.ExpiresAt.After(now) {
		return nil, invalid("expires_at must be in the future")
	}
	if p.ExpiresAt.Sub(now) > s.cfg.MaxTTL {
		return nil, invalid("expires_at must be within %s", s.cfg.MaxTTL)
	}
	if p.PIN != "" && !secure.ValidPIN(p.PIN) {
		return nil, invalid("pin must be %d to %d digits", secure.MinPINLength, secure.MaxPINLength)
	}

	token, err := secure.GenerateToken(secure.TokenBytes)
	if err != nil {
		return nil, err
	}

	in := store.NewAccessLink{
		Token:        token,
		SlugHint:     p.SlugHint,
		WithSlug:     p.WithSlug,
		AccessLevel:  p.AccessLevel,
		ExpiresAt:    p.ExpiresAt.UTC(),
		CreatedByID:  ownerID,
		ProjectID:    p.ProjectID,
		ContractorID: p.ContractorID,
		SnagIDs:      p.SnagIDs,
		CreatedAt:    now,
	}
	if p.PIN != "" {
		hash, salt, err := secure.HashPIN(s.cfg.Hasher, p.PIN)
		if err != nil {
			return nil, err
		}
		in.PINHash = &hash
		in.PINSalt = &salt
		in.PINScheme = s.cfg.Hasher.Scheme()
	}

	link, err := s.links.Create(ctx, in)
	if err != nil {
		return nil, unavailable("create link", err)
	}

	s.record(audit.Event{Kind: model.EventLinkCreated, LinkID: link.ID, ActorID: ownerID, Success: true,
		Detail: "level=" + link.AccessLevel.String()})
	s.publish(ownerID, websocket.TypeLinkCreated, link.ID, map[string]any{"project_id": link.ProjectID})
	s.logger.Info("access link created", "link_id", link.ID, "owner", ownerID, "token", secure.Redact(token))

	if p.ContractorEmail != "" {
		s.notify(email.AccessLinkMessage{
			To:          p.ContractorEmail,
			Token:       token,
			ProjectID:   link.ProjectID,
			AccessLevel: link.AccessLevel.String(),
			ExpiresAt:   link.ExpiresAt,
			PINRequired: link.HasPIN(),
		}, link.ID)
	}
	return link, nil
}

// notify hands the email to the background queue. Failures are logged only.
func (s *Service) notify(m email.AccessLinkMessage, linkID string) {
	if s.notifier == nil {
		return
	}
	job := dispatch.Job{
		Name: "email:access_link",
		Run: func(ctx context.Context) error {
			return s.notifier.SendAccessLink(ctx, m)
		},
	}
	if s.queue == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := job.Run(ctx); err != nil {
				s.logger.Error("send access link email", "link_id", linkID, "error", err)
			}
		}()
		return
	}
	if err := s.queue.Submit(job); err != nil {
		s.logger.Warn("access link email not queued", "link_id", linkID, "error", err)
	}
}

// Get returns one of ownerID's links.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*model.AccessLink, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, unavailable("get link", err)
	}
	if link == nil || link.CreatedByID != ownerID {
		return nil, ErrNotFound
	}
	return link, nil
}

// List returns ownerID's links, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]model.AccessLink, error) {
	links, err := s.links.ListByCreator(ctx, ownerID)
	if err != nil {
		return nil, unavailable("list links", err)
	}
	return links, nil
}

// Revoke permanently disables a link. Revoking twice is not an error and
// keeps the original revocation time.
func (s *Service) Revoke(ctx context.Context, ownerID, id string) (*model.AccessLink, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	changed, err := s.links.Revoke(ctx, id, ownerID, s.now())
	if err != nil {
		return nil, unavailable("revoke link", err)
	}
	if changed {
		s.record(audit.Event{Kind: model.EventLinkRevoked, LinkID: id, ActorID: ownerID, Success: true})
		s.publish(ownerID, websocket.TypeLinkRevoked, id, nil)
	}
	return s.Get(ctx, ownerID, id)
}

// Delete removes a link with its access records.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	deleted, err := s.links.Delete(ctx, id, ownerID)
	if err != nil {
		return unavailable("delete link", err)
	}
	if !deleted {
		return ErrNotFound
	}
	s.record(audit.Event{Kind: model.EventLinkDeleted, LinkID: id, ActorID: ownerID, Success: true})
	s.publish(ownerID, websocket.TypeLinkDeleted, id, nil)
	return nil
}

// Analytics is an owner's view of how a link has been used.
type Analytics struct {
	Link             *model.AccessLink    `json:"link"`
	Status           string               `json:"status"`
	Opens            []model.AccessRecord `json:"opens"`
	Events           []model.AuditEntry   `json:"events"`
	UniqueIPs        int                  `json:"unique_ips"`
	PINVerifiedOpens int                  `json:"pin_verified_opens"`
}

// Analytics returns the most recent opens and audit events for a link.
func (s *Service) Analytics(ctx context.Context, ownerID, id string, limit int) (*Analytics, error) {
	link, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	opens, err := s.links.ListAccessRecords(ctx, id, limit)
	if err != nil {
		return nil, unavailable("list access records", err)
	}

	a := &Analytics{
		Link:   link,
		Status: evaluate(link, s.now()).String(),
		Opens:  opens,
		Events: []model.AuditEntry{},
	}
	if a.Opens == nil {
		a.Opens = []model.AccessRecord{}
	}
	ips := make(map[string]struct{})
	for _, o := range opens {
		ips[o.IP] = struct{}{}
		if o.PINVerified {
			a.PINVerifiedOpens++
		}
	}
	a.UniqueIPs = len(ips)

	if s.events != nil {
		events, err := s.events.ListByResource(ctx, model.ResourceAccessLink, id, limit)
		if err != nil {
			return nil, unavailable("list audit entries", err)
		}
		if events != nil {
			a.Events = events
		}
	}
	return a, nil
}
