package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jdutton/mcp-scaffold/pkg/logger"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// BearerAuth returns middleware that validates Authorization: Bearer tokens
// against the token store and injects the resolved identity into the
// request context. Requests without a valid, unexpired token get a 401.
func BearerAuth(tokens storage.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			info, err := tokens.GetToken(r.Context(), token)
			if err != nil {
				logger.Errorw("token lookup failed", "error", err)
				writeUnauthorized(w, "token validation failed")
				return
			}
			if info == nil || info.IsExpired() {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			identity := info.UserInfo
			if identity == nil {
				// Tokens stored without upstream identity still authenticate;
				// downstream sees the provider at minimum.
				identity = &storage.UserInfo{Provider: info.Provider}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractBearerToken pulls the token out of an Authorization header value.
// The scheme comparison is case-insensitive per RFC 9110.
func extractBearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":             "invalid_token",
		"error_description": description,
	}); err != nil {
		logger.Errorw("failed to encode unauthorized response", "error", err)
	}
}
