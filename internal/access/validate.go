package access

import (
	"context"
	"fmt"

	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/dukerupert/snaglist/internal/websocket"
)

// Validate evaluates a presented token. Every outcome is audited; an active
// link also has its open recorded. Only persistence failures return an error.
func (s *Service) Validate(ctx context.Context, token string, caller model.CallerInfo) (Validation, error) {
	link, err := s.lookupToken(ctx, token)
	if err != nil {
		return Validation{}, err
	}
	return s.check(ctx, link, caller, "token="+secure.Redact(token))
}

// Resolve is Validate for a short slug.
func (s *Service) Resolve(ctx context.Context, slug string, caller model.CallerInfo) (Validation, error) {
	var link *model.AccessLink
	if slug != "" {
		var err error
		link, err = s.links.GetBySlug(ctx, slug)
		if err != nil {
			return Validation{}, unavailable("resolve slug", err)
		}
	}
	return s.check(ctx, link, caller, "slug="+slug)
}

// StatusOf evaluates link at the current time without side effects.
func (s *Service) StatusOf(link *model.AccessLink) Status {
	return evaluate(link, s.now())
}

// lookupToken finds a link by token. The index lookup is confirmed with a
// constant-time comparison before the link is trusted.
func (s *Service) lookupToken(ctx context.Context, token string) (*model.AccessLink, error) {
	if token == "" {
		return nil, nil
	}
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return nil, unavailable("lookup token", err)
	}
	if link == nil || !secure.EqualString(link.Token, token) {
		return nil, nil
	}
	return link, nil
}

func (s *Service) check(ctx context.Context, link *model.AccessLink, caller model.CallerInfo, detail string) (Validation, error) {
	now := s.now()
	v := Validation{Status: evaluate(link, now), Link: link}

	switch v.Status {
	case StatusNotFound:
		s.record(audit.Event{Kind: model.EventLinkNotFound, Caller: caller, Detail: detail})
	case StatusRevoked:
		s.record(audit.Event{Kind: model.EventLinkRevokedAccess, LinkID: link.ID, Caller: caller, Detail: detail})
	case StatusExpired:
		s.record(audit.Event{Kind: model.EventLinkExpired, LinkID: link.ID, Caller: caller, Detail: detail})
	case StatusLocked:
		v.RetryAfter = link.LockedUntil.Sub(now)
		s.record(audit.Event{Kind: model.EventLinkLocked, LinkID: link.ID, Caller: caller, Detail: detail})
	case StatusActive:
		v.PINRequired = link.HasPIN()
		if err := s.RecordAccess(ctx, link, caller, false); err != nil {
			return Validation{}, err
		}
		s.record(audit.Event{Kind: model.EventLinkValidated, LinkID: link.ID, Caller: caller, Success: true, Detail: detail})
	default:
		return Validation{}, fmt.Errorf("unknown link status %d", uint8(v.Status))
	}
	return v, nil
}

// RecordAccess counts one open of link and appends an access record. link is
// updated in place with the new counters.
func (s *Service) RecordAccess(ctx context.Context, link *model.AccessLink, caller model.CallerInfo, pinVerified bool) error {
	now := s.now()
	rec, err := s.links.RecordAccess(ctx, link.ID, caller, pinVerified, now)
	if err != nil {
		return unavailable("record access", err)
	}
	link.OpenCount++
	opened := rec.CreatedAt
	link.LastOpenedAt = &opened

	s.publish(link.CreatedByID, websocket.TypeLinkOpened, link.ID, map[string]any{
		"open_count":   link.OpenCount,
		"pin_verified": pinVerified,
		"ip":           caller.IP,
	})
	return nil
}
