package middleware

import (
	"net/http"
	"strings"

	"github.com/dukerupert/snaglist/internal/auth"
)

// BearerProtocolPrefix marks the Sec-WebSocket-Protocol entry carrying the
// owner JWT. Browsers cannot set Authorization on a WebSocket, so an upgrade
// offers ["snaglist.v1", "bearer.<jwt>"] instead.
const BearerProtocolPrefix = "bearer."

// RequireOwner authenticates the bearer JWT and stores the owner principal
// in the request context. WebSocket upgrades may carry the token in
// Sec-WebSocket-Protocol.
func RequireOwner(verifier *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" && isUpgrade(r) {
				raw = protocolToken(r)
			}
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snaglist"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token.")
				return
			}

			p, err := verifier.Parse(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snaglist", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token.")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// OwnerKey keys rate limits by authenticated owner, falling back to IP.
func OwnerKey(r *http.Request) string {
	if owner := auth.OwnerID(r.Context()); owner != "" {
		return "owner:" + owner
	}
	return RealIP(r)
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func protocolToken(r *http.Request) string {
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, BearerProtocolPrefix) {
				return p[len(BearerProtocolPrefix):]
			}
		}
	}
	return ""
}
