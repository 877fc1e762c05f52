package access

import (
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
)

// Status is the outcome of evaluating a link.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusNotFound
	StatusRevoked
	StatusExpired
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusNotFound:
		return "not_found"
	case StatusRevoked:
		return "revoked"
	case StatusExpired:
		return "expired"
	case StatusLocked:
		return "locked"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Reason is the human-readable message shown to the link holder.
func (s Status) Reason() string {
	switch s {
	case StatusActive:
		return "Link is valid."
	case StatusNotFound:
		return "This link does not exist."
	case StatusRevoked:
		return "This link has been revoked by the site manager."
	case StatusExpired:
		return "This link has expired."
	case StatusLocked:
		return "Too many incorrect PIN attempts. Try again later."
	default:
		return "This link cannot be used."
	}
}

// evaluate applies the link state machine. Order matters: absence and
// revocation are permanent and win over time-based states.
func evaluate(link *model.AccessLink, now time.Time) Status {
	switch {
	case link == nil:
		return StatusNotFound
	case link.RevokedAt != nil:
		return StatusRevoked
	case now.After(link.ExpiresAt):
		return StatusExpired
	case link.LockedUntil != nil && now.Before(*link.LockedUntil):
		return StatusLocked
	default:
		return StatusActive
	}
}

// Validation is the result of Validate or Resolve.
type Validation struct {
	Status Status
	// Link is nil for StatusNotFound.
	Link *model.AccessLink
	// PINRequired is set on an active link that has a PIN; scoped data
	// stays hidden until VerifyPIN succeeds.
	PINRequired bool
	// RetryAfter is set for StatusLocked.
	RetryAfter time.Duration
}

func (v Validation) Valid() bool {
	return v.Status == StatusActive
}

// Err converts a non-active outcome into its error.
func (v Validation) Err() error {
	switch v.Status {
	case StatusActive:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusRevoked:
		return ErrRevoked
	case StatusExpired:
		return ErrExpired
	case StatusLocked:
		le := &LockedError{RetryAfter: v.RetryAfter}
		if v.Link != nil && v.Link.LockedUntil != nil {
			le.Until = *v.Link.LockedUntil
		}
		return le
	default:
		return fmt.Errorf("unknown link status %d", uint8(v.Status))
	}
}

// PINOutcome is the result kind of VerifyPIN.
type PINOutcome uint8

const (
	PINVerified PINOutcome = iota + 1
	PINMismatch
	PINLocked
	PINNotConfigured
	// PINLinkInvalid means the link itself is not usable; see PINResult.Status.
	PINLinkInvalid
)

func (o PINOutcome) String() string {
	switch o {
	case PINVerified:
		return "verified"
	case PINMismatch:
		return "mismatch"
	case PINLocked:
		return "locked"
	case PINNotConfigured:
		return "not_configured"
	case PINLinkInvalid:
		return "link_invalid"
	default:
		return fmt.Sprintf("PINOutcome(%d)", uint8(o))
	}
}

// PINResult is the result of VerifyPIN.
type PINResult struct {
	Outcome PINOutcome
	// Status is the link state; StatusActive unless Outcome is PINLinkInvalid
	// or PINLocked.
	Status Status
	Link   *model.AccessLink
	// Remaining is the attempts left after a mismatch, 0 once locked.
	Remaining  int
	RetryAfter time.Duration
}

// Err converts a failed outcome into its error.
func (r PINResult) Err() error {
	switch r.Outcome {
	case PINVerified:
		return nil
	case PINMismatch:
		return &PINMismatchError{Remaining: r.Remaining}
	case PINLocked:
		le := &LockedError{RetryAfter: r.RetryAfter}
		if r.Link != nil && r.Link.LockedUntil != nil {
			le.Until = *r.Link.LockedUntil
		}
		return le
	case PINNotConfigured:
		return ErrPINNotConfigured
	case PINLinkInvalid:
		return Validation{Status: r.Status, Link: r.Link}.Err()
	default:
		return fmt.Errorf("unknown pin outcome %d", uint8(r.Outcome))
	}
}
