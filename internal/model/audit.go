package model

import (
	"fmt"
	"time"
)

// EventKind classifies an audit entry.
type EventKind uint8

const (
	EventLinkCreated EventKind = iota + 1
	EventLinkRevoked
	EventLinkDeleted
	EventLinkValidated
	EventLinkNotFound
	EventLinkExpired
	EventLinkRevokedAccess
	EventLinkLocked
	EventPINVerified
	EventPINFailed
	EventPINLocked
	EventPINNotConfigured
	EventRateLimited
)

var eventKindNames = map[EventKind]string{
	EventLinkCreated:       "link_created",
	EventLinkRevoked:       "link_revoked",
	EventLinkDeleted:       "link_deleted",
	EventLinkValidated:     "link_validated",
	EventLinkNotFound:      "link_not_found",
	EventLinkExpired:       "link_expired",
	EventLinkRevokedAccess: "link_revoked_access",
	EventLinkLocked:        "link_locked",
	EventPINVerified:       "pin_verified",
	EventPINFailed:         "pin_failed",
	EventPINLocked:         "pin_locked",
	EventPINNotConfigured:  "pin_not_configured",
	EventRateLimited:       "rate_limited",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid event kind %q", s)
}

func (k EventKind) MarshalText() ([]byte, error) {
	if _, ok := eventKindNames[k]; !ok {
		return nil, fmt.Errorf("invalid event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// Resource types referenced by audit entries.
const (
	ResourceAccessLink = "access_link"
	ResourceRateLimit  = "rate_limit"
)

type AuditEntry struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *string   `json:"resource_id,omitempty"`
	ActorID      *string   `json:"actor_id,omitempty"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	Success      bool      `json:"success"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
