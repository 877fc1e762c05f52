// Package ratelimit implements a fixed-window request quota per caller key
// and action kind. Counters live in a Store shared by every instance; the
// store's increment is atomic so concurrent requests cannot both slip under
// the limit.
//
// Windows are fixed, not sliding: a caller can burst up to twice the limit
// across a window boundary.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
)

// Policy is the budget for one action.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the built-in budgets.
func DefaultPolicies() map[model.Action]Policy {
	return map[model.Action]Policy{
		model.ActionTokenLookup: {Limit: 20, Window: 60 * time.Second},
		model.ActionPINAttempt:  {Limit: 5, Window: 300 * time.Second},
		model.ActionAPICall:     {Limit: 100, Window: 60 * time.Second},
	}
}

// Store persists counters. IncrementIfBelow must be atomic: it replaces a
// dead window with a fresh one at count 1, increments a live window while
// count <= limit, and reports a count above limit when the request is over.
type Store interface {
	IncrementIfBelow(ctx context.Context, key string, action model.Action, limit int, window time.Duration, now time.Time) (model.RateLimitCounter, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Headers returns the pacing headers sent with every rate-limited response.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt.Unix(), 10),
	}
	if !d.Allowed {
		h["Retry-After"] = strconv.Itoa(d.RetryAfterSeconds())
	}
	return h
}

// LimitedError reports a rejected request.
type LimitedError struct {
	Action   model.Action
	Decision Decision
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %ds", e.Action, e.Decision.RetryAfterSeconds())
}

type Limiter struct {
	store    Store
	policies map[model.Action]Policy
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithPolicy overrides the budget of one action.
func WithPolicy(action model.Action, p Policy) Option {
	return func(l *Limiter) {
		l.policies[action] = p
	}
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: DefaultPolicies(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the budget configured for action.
func (l *Limiter) Policy(action model.Action) (Policy, bool) {
	p, ok := l.policies[action]
	return p, ok
}

// Check counts one request for key against action's budget.
func (l *Limiter) Check(ctx context.Context, key string, action model.Action) (Decision, error) {
	p, ok := l.policies[action]
	if !ok {
		return Decision{}, fmt.Errorf("no rate limit policy for %s", action)
	}
	if key == "" {
		key = "unknown"
	}

	now := l.now()
	c, err := l.store.IncrementIfBelow(ctx, key, action, p.Limit, p.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("check rate limit: %w", err)
	}

	d := Decision{Limit: p.Limit, ResetAt: c.WindowEnd}
	if c.Count <= p.Limit {
		d.Allowed = true
		d.Remaining = p.Limit - c.Count
		return d, nil
	}
	d.RetryAfter = c.WindowEnd.Sub(now)
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d, nil
}

// Sweep deletes counters whose window has ended.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	return l.store.DeleteExpired(ctx, l.now())
}
