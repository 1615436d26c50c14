package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// IdentityResolver turns request credentials into an already-authenticated user id.
type IdentityResolver interface {
	ResolveUserID(r *http.Request) (string, error)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserKey, id)
}

func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserKey).(string)
	return id
}

// RequireUser rejects requests whose credentials do not resolve to a user.
func RequireUser(resolver IdentityResolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := resolver.ResolveUserID(r)
		if err != nil || userID == "" {
			slog.WarnContext(ctx, "unauthenticated request", "path", r.URL.Path, "error", err) // #nosec G706
			writeUnauthorized(ctx, w, "NOT_LOGGED_IN", "authentication required")
			return
		}
		next(w, r.WithContext(WithUserID(ctx, userID)))
	}
}

func writeUnauthorized(ctx context.Context, w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
