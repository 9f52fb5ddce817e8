package pairing

import (
	"errors"
	"net/http"
	"strings"

	"github.com/andywolf/agentgate/internal/security"
)

// Middleware enforces bearer-token authentication on an HTTP handler.
// Identity for lockout purposes is the client key (IP or forwarded IP),
// the same key the request limiter uses.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		identity := security.ClientKey(r)
		if err := g.Authenticate(identity, token); err != nil {
			if errors.Is(err, ErrLockedOut) {
				http.Error(w, err.Error(), http.StatusTooManyRequests)
				return
			}
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
