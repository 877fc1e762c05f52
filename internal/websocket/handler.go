package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/snaglist/internal/auth"
)

// Subprotocol is the feed protocol a client offers and the server echoes.
// The token entry a browser offers alongside it is never echoed.
const Subprotocol = "snaglist.v1"

// HandleWebSocket upgrades an authenticated owner request into a live feed of
// that owner's link events.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := auth.OwnerID(r.Context())
		if ownerID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
			Subprotocols:   []string{Subprotocol},
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		NewClient(hub, conn, ownerID).Run(r.Context())
	}
}
