package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/bulkcsv/internal/config"
	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// apiKey is one configured key and the user name it authenticates as.
type apiKey struct {
	name string
	key  []byte
}

// parseAPIKeys splits "name:key" entries. A bare key authenticates as
// "api-key-N", N being its 1-based position.
func parseAPIKeys(entries []string) []apiKey {
	keys := make([]apiKey, 0, len(entries))
	for i, entry := range entries {
		name, key, ok := strings.Cut(entry, ":")
		if !ok {
			name, key = "", entry
		}
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if name == "" {
			name = "api-key-" + strconv.Itoa(i+1)
		}
		keys = append(keys, apiKey{name: name, key: []byte(key)})
	}
	return keys
}

// APIKeyAuth returns middleware that validates the X-API-Key header against
// configured keys and records the key's name as the acting user.
// If RequireAPIKey is false, requests without a key pass through as
// anonymous; a presented valid key still names the user.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := parseAPIKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				if !cfg.RequireAPIKey {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"missing API key","code":"AUTH_MISSING_KEY"}`, http.StatusUnauthorized)
				return
			}

			name, ok := matchAPIKey(presented, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"invalid API key","code":"AUTH_INVALID_KEY"}`, http.StatusForbidden)
				return
			}

			ctx := core.ContextWithUser(r.Context(), name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchAPIKey checks the presented key against every configured key.
// Uses constant-time comparison and checks ALL keys to prevent timing attacks.
func matchAPIKey(presented string, keys []apiKey) (string, bool) {
	p := []byte(presented)
	var name string
	found := 0
	for _, k := range keys {
		match := subtle.ConstantTimeCompare(p, k.key)
		if match == 1 && found == 0 {
			name = k.name
		}
		found |= match
	}
	return name, found == 1
}
