package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"phobos.org.uk/executor/internal/api"
)

// APIKeyMiddleware returns HTTP middleware that validates the configured API key.
// The key can be provided via:
// - X-API-Key header
// - Authorization header: "Bearer <key>"
// - Query parameter: "?api_key=<key>"
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if no key configured
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := extractAPIKey(r)
			if provided == "" {
				api.WriteError(w, http.StatusUnauthorized, api.ErrorUnauthorized, "API key is required")
				return
			}
			if !secureCompare(provided, key) {
				api.WriteError(w, http.StatusUnauthorized, api.ErrorUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey returns the first key found, in header, bearer, query order.
func extractAPIKey(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}

// secureCompare performs constant-time comparison to prevent timing attacks
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
