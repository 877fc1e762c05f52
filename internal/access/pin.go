package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/dukerupert/snaglist/internal/websocket"
)

// VerifyPIN checks pin against the link behind token. A locked link rejects
// every attempt, the correct PIN included, without counting it. A wrong PIN
// counts one failure; reaching MaxPINAttempts locks the link for Lockout.
func (s *Service) VerifyPIN(ctx context.Context, token, pin string, caller model.CallerInfo) (PINResult, error) {
	link, err := s.lookupToken(ctx, token)
	if err != nil {
		return PINResult{}, err
	}
	now := s.now()
	status := evaluate(link, now)

	switch status {
	case StatusNotFound:
		s.record(audit.Event{Kind: model.EventLinkNotFound, Caller: caller, Detail: "pin: token=" + secure.Redact(token)})
		return PINResult{Outcome: PINLinkInvalid, Status: status}, nil
	case StatusRevoked:
		s.record(audit.Event{Kind: model.EventLinkRevokedAccess, LinkID: link.ID, Caller: caller, Detail: "pin"})
		return PINResult{Outcome: PINLinkInvalid, Status: status, Link: link}, nil
	case StatusExpired:
		s.record(audit.Event{Kind: model.EventLinkExpired, LinkID: link.ID, Caller: caller, Detail: "pin"})
		return PINResult{Outcome: PINLinkInvalid, Status: status, Link: link}, nil
	case StatusLocked:
		retry := link.LockedUntil.Sub(now)
		s.record(audit.Event{Kind: model.EventPINLocked, LinkID: link.ID, Caller: caller,
			Detail: fmt.Sprintf("attempt while locked, retry_after=%ds", int(retry.Seconds()))})
		return PINResult{Outcome: PINLocked, Status: status, Link: link, RetryAfter: retry}, nil
	case StatusActive:
	default:
		return PINResult{}, fmt.Errorf("unknown link status %d", uint8(status))
	}

	if !link.HasPIN() {
		s.record(audit.Event{Kind: model.EventPINNotConfigured, LinkID: link.ID, Caller: caller})
		return PINResult{Outcome: PINNotConfigured, Status: status, Link: link}, nil
	}

	hasher, err := secure.HasherFor(link.PINScheme)
	if err != nil {
		return PINResult{}, fmt.Errorf("verify pin: %w", err)
	}

	if secure.VerifyPIN(hasher, pin, *link.PINSalt, *link.PINHash) {
		return s.pinVerified(ctx, link, caller)
	}
	return s.pinFailed(ctx, link, caller)
}

func (s *Service) pinVerified(ctx context.Context, link *model.AccessLink, caller model.CallerInfo) (PINResult, error) {
	if link.FailedPINAttempts > 0 || link.LockedUntil != nil {
		if err := s.links.ResetPINFailures(ctx, link.ID); err != nil {
			return PINResult{}, unavailable("reset pin failures", err)
		}
	}
	link.FailedPINAttempts = 0
	link.LockedUntil = nil

	if err := s.RecordAccess(ctx, link, caller, true); err != nil {
		return PINResult{}, err
	}
	s.record(audit.Event{Kind: model.EventPINVerified, LinkID: link.ID, Caller: caller, Success: true})
	return PINResult{Outcome: PINVerified, Status: StatusActive, Link: link, Remaining: s.cfg.MaxPINAttempts}, nil
}

func (s *Service) pinFailed(ctx context.Context, link *model.AccessLink, caller model.CallerInfo) (PINResult, error) {
	now := s.now()
	f, err := s.links.RecordPINFailure(ctx, link.ID, s.cfg.MaxPINAttempts, s.cfg.Lockout, now)
	if errors.Is(err, sql.ErrNoRows) {
		s.record(audit.Event{Kind: model.EventLinkNotFound, LinkID: link.ID, Caller: caller, Detail: "deleted during pin check"})
		return PINResult{Outcome: PINLinkInvalid, Status: StatusNotFound}, nil
	}
	if err != nil {
		return PINResult{}, unavailable("record pin failure", err)
	}
	link.FailedPINAttempts = f.Attempts
	link.LockedUntil = f.LockedUntil

	// Another request locked the link between our read and write.
	if !f.Applied {
		var retry time.Duration
		if f.LockedUntil != nil {
			retry = f.LockedUntil.Sub(now)
		}
		s.record(audit.Event{Kind: model.EventPINLocked, LinkID: link.ID, Caller: caller, Detail: "locked concurrently"})
		return PINResult{Outcome: PINLocked, Status: StatusLocked, Link: link, RetryAfter: retry}, nil
	}

	remaining := s.cfg.MaxPINAttempts - f.Attempts
	if remaining < 0 {
		remaining = 0
	}
	res := PINResult{Outcome: PINMismatch, Status: StatusActive, Link: link, Remaining: remaining}
	s.record(audit.Event{Kind: model.EventPINFailed, LinkID: link.ID, Caller: caller,
		Detail: fmt.Sprintf("attempts=%d remaining=%d", f.Attempts, remaining)})

	if f.LockedUntil != nil && now.Before(*f.LockedUntil) {
		res.Remaining = 0
		res.RetryAfter = f.LockedUntil.Sub(now)
		s.record(audit.Event{Kind: model.EventPINLocked, LinkID: link.ID, Caller: caller,
			Detail: fmt.Sprintf("locked for %s", s.cfg.Lockout)})
		s.publish(link.CreatedByID, websocket.TypePINLocked, link.ID, map[string]any{
			"locked_until": f.LockedUntil.UTC(),
			"ip":           caller.IP,
		})
	}
	return res, nil
}
