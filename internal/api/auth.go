package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// BearerAuth guards the management routes with the daemon's API token. An
// empty token rejects every request: the daemon must never expose job
// control unauthenticated.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httpError(w, http.StatusServiceUnavailable, "configuration_error", "management API token is not configured (set server.api_token)")
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="autopost"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				slog.Warn("rejected management request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Bearer realm="autopost", error="invalid_token"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
