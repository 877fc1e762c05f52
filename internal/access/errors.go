package access

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("access link not found")
	ErrExpired          = errors.New("access link expired")
	ErrRevoked          = errors.New("access link revoked")
	ErrLocked           = errors.New("access link locked")
	ErrPINMismatch      = errors.New("pin mismatch")
	ErrPINNotConfigured = errors.New("pin not configured for access link")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrUnavailable marks a persistence failure. It is transient and never
	// retried here.
	ErrUnavailable = errors.New("access store unavailable")
)

// LockedError carries the time left on a PIN lockout.
type LockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("access link locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// PINMismatchError reports a wrong PIN and how many attempts remain before
// the link locks.
type PINMismatchError struct {
	Remaining int
}

func (e *PINMismatchError) Error() string {
	return fmt.Sprintf("pin mismatch, %d attempts remaining", e.Remaining)
}

func (e *PINMismatchError) Unwrap() error { return ErrPINMismatch }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
