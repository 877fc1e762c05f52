package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is a live notification about one of an owner's links.
type Message struct {
	Type   string         `json:"type"`
	LinkID string         `json:"link_id"`
	At     time.Time      `json:"at"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Message types.
const (
	TypeLinkCreated = "link_created"
	TypeLinkOpened  = "link_opened"
	TypeLinkRevoked = "link_revoked"
	TypeLinkDeleted = "link_deleted"
	TypePINLocked   = "pin_locked"
)

func NewMessage(typ, linkID string, at time.Time, extra map[string]any) Message {
	return Message{
		Type:   typ,
		LinkID: linkID,
		At:     at.UTC(),
		Extra:  extra,
	}
}

// Hub tracks connected clients per owner. An owner only ever receives
// messages about their own links.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to its owner's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.ownerID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.ownerID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.ownerID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, c.ownerID)
			}
		}
	}
	h.mu.Unlock()
}

// Publish sends msg to every client of ownerID. Slow clients miss messages
// rather than block the publisher.
func (h *Hub) Publish(ownerID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ownerID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, dropping message", "owner", ownerID, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients across all owners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
