package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// AuthConfig holds operator authentication configuration.
type AuthConfig struct {
	// APIKey enables authentication when non-empty.
	APIKey     string
	HeaderName string
	// ProtectedPrefixes lists the path prefixes that require the key.
	ProtectedPrefixes []string
}

// DefaultAuthConfig protects the operator endpoints.
func DefaultAuthConfig(apiKey string) AuthConfig {
	return AuthConfig{
		APIKey:            apiKey,
		HeaderName:        "X-API-Key",
		ProtectedPrefixes: []string{"/api/v1/admin/"},
	}
}

// Auth rejects requests to protected paths that lack the operator API key.
// With no key configured every request passes.
func Auth(config AuthConfig, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.APIKey == "" || !isProtected(r.URL.Path, config.ProtectedPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := extractAPIKey(r, config.HeaderName)
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(config.APIKey)) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Bool("key_provided", apiKey != "").
					Msg("Authentication failed")
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key",
					"Provide a valid API key in the "+config.HeaderName+" header")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isProtected(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// extractAPIKey reads the key from the custom header or an Authorization
// header with or without the Bearer scheme.
func extractAPIKey(r *http.Request, header string) string {
	if apiKey := r.Header.Get(header); apiKey != "" {
		return apiKey
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}
