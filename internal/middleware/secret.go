package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// ResolveSecret reads a shared secret from the Authorization bearer, the
// X-Worker-Secret header or the secret query parameter, in that order.
func ResolveSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	if s := r.Header.Get("X-Worker-Secret"); s != "" {
		return s
	}
	return r.URL.Query().Get("secret")
}

// RequireSecret guards worker triggers. An empty secret disables the check.
func RequireSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			next(w, r)
			return
		}
		got := ResolveSecret(r)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.WarnContext(r.Context(), "worker trigger rejected", "path", r.URL.Path) // #nosec G706
			writeUnauthorized(r.Context(), w, "WORKER_UNAUTHORIZED", "invalid worker secret")
			return
		}
		next(w, r)
	}
}
