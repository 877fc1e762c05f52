package model

import (
	"fmt"
	"time"
)

// AccessLevel is the scope a link grants. The zero value is not a valid level;
// values only come from the constants below or ParseAccessLevel.
type AccessLevel uint8

const (
	AccessView AccessLevel = iota + 1
	AccessUpdate
	AccessFull
)

func (l AccessLevel) String() string {
	switch l {
	case AccessView:
		return "view"
	case AccessUpdate:
		return "update"
	case AccessFull:
		return "full"
	default:
		return fmt.Sprintf("AccessLevel(%d)", uint8(l))
	}
}

// Valid reports whether l is one of view, update or full.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessView, AccessUpdate, AccessFull:
		return true
	default:
		return false
	}
}

// ParseAccessLevel maps the stored/wire form to an AccessLevel.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "view":
		return AccessView, nil
	case "update":
		return AccessUpdate, nil
	case "full":
		return AccessFull, nil
	default:
		return 0, fmt.Errorf("invalid access level %q", s)
	}
}

func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level %d", uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *AccessLevel) UnmarshalText(b []byte) error {
	parsed, err := ParseAccessLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AccessLink is a magic link handed to a contractor. Token is the bearer
// secret; it is only serialized in the creation response.
type AccessLink struct {
	ID                string      `json:"id"`
	Token             string      `json:"-"`
	Slug              *string     `json:"slug,omitempty"`
	AccessLevel       AccessLevel `json:"access_level"`
	PINHash           *string     `json:"-"`
	PINSalt           *string     `json:"-"`
	PINScheme         string      `json:"-"`
	ExpiresAt         time.Time   `json:"expires_at"`
	RevokedAt         *time.Time  `json:"revoked_at,omitempty"`
	FailedPINAttempts int         `json:"failed_pin_attempts"`
	LockedUntil       *time.Time  `json:"locked_until,omitempty"`
	OpenCount         int         `json:"open_count"`
	LastOpenedAt      *time.Time  `json:"last_opened_at,omitempty"`
	CreatedByID       string      `json:"created_by_id"`
	ProjectID         string      `json:"project_id"`
	ContractorID      string      `json:"contractor_id,omitempty"`
	SnagIDs           []string    `json:"snag_ids"`
	CreatedAt         time.Time   `json:"created_at"`
}

// HasPIN reports whether a secondary PIN factor is configured. Hash and salt
// are always present together.
func (l *AccessLink) HasPIN() bool {
	return l.PINHash != nil && l.PINSalt != nil
}

// AccessRecord is one recorded open of a link.
type AccessRecord struct {
	ID          string    `json:"id"`
	LinkID      string    `json:"link_id"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	PINVerified bool      `json:"pin_verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallerInfo identifies the party making a public request.
type CallerInfo struct {
	IP        string
	UserAgent string
}
