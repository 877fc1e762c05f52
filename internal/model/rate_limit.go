package model

import (
	"fmt"
	"time"
)

// Action is a rate-limited request kind. Each action has its own budget.
type Action uint8

const (
	ActionTokenLookup Action = iota + 1
	ActionPINAttempt
	ActionAPICall
)

func (a Action) String() string {
	switch a {
	case ActionTokenLookup:
		return "token_lookup"
	case ActionPINAttempt:
		return "pin_attempt"
	case ActionAPICall:
		return "api_call"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// RateLimitCounter is one fixed window for a key and action. A counter whose
// WindowEnd has passed is dead and must not be counted against.
type RateLimitCounter struct {
	Key         string
	Action      Action
	Count       int
	WindowStart time.Time
	WindowEnd   time.Time
}
