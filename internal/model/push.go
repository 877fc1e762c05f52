package model

import "time"

// PushSubscription is one browser an owner registered for security alerts.
type PushSubscription struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"-"`
	AuthKey    string    `json:"-"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
