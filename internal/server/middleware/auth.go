package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates requests behind a shared API key, accepted either as a
// bearer token or in the X-API-Key header. An empty key disables the
// check entirely, which is the development default.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := extractToken(r)
			if presented == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			// Compare in constant time; the key is a long-lived secret.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the credential from "Authorization: Bearer <key>"
// first, falling back to the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
