package middleware

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and stamps Access-Control headers on
// responses to browsers from an allowed origin. An empty allowlist, or an
// entry of "*", admits every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowedOrigins, origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowlist []string, origin string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, entry := range allowlist {
		if entry == "*" || strings.EqualFold(entry, origin) {
			return true
		}
	}
	return false
}
