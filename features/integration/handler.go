package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socialpublish/internal/apperr"
	"socialpublish/internal/middleware"
	"socialpublish/internal/oauthstate"
)

const stateCookie = "ig_oauth_state"

// StateGuard rejects OAuth states that were already used.
type StateGuard interface {
	Consume(ctx context.Context, state string, ttl time.Duration) (bool, error)
}

type Handler struct {
	service     *Service
	signer      *oauthstate.Signer
	guard       StateGuard
	settingsURL string
}

func NewHandler(s *Service, signer *oauthstate.Signer, guard StateGuard, settingsURL string) *Handler {
	return &Handler{service: s, signer: signer, guard: guard, settingsURL: settingsURL}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)
	origin := middleware.RequestOrigin(r)

	state := oauthstate.NewState()
	authURL, err := h.service.BuildAuthorizationURL(origin, state)
	if err != nil {
		slog.ErrorContext(ctx, "cannot start oauth", "error", err)
		h.writeError(ctx, w, "CONFIGURATION_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	binding, err := h.signer.Issue(state, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sign oauth state", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to start connection", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    binding,
		Path:     "/",
		MaxAge:   int(h.signer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(origin, "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	slog.InfoContext(ctx, "oauth started", "redirect_uri", h.service.RedirectURI(origin))

	if r.URL.Query().Get("debug") == "1" {
		h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
			"origin":            origin,
			"redirect_uri":      h.service.RedirectURI(origin),
			"scope":             strings.Join(h.service.Scopes(), " "),
			"authorization_url": authURL,
		})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := middleware.RequestOrigin(r)
	q := r.URL.Query()

	var binding string
	if c, err := r.Cookie(stateCookie); err == nil {
		binding = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	code := q.Get("code")
	state := q.Get("state")
	if code == "" {
		h.redirectError(w, r, origin, apperr.ReasonMissingCode)
		return
	}

	userID, err := h.signer.Verify(binding, state)
	if err != nil {
		slog.WarnContext(ctx, "oauth state rejected", "error", err)
		h.redirectError(w, r, origin, apperr.ReasonInvalidState)
		return
	}
	ctx = middleware.WithUserID(ctx, userID)

	fresh, err := h.guard.Consume(ctx, state, h.signer.TTL())
	if err != nil {
		slog.ErrorContext(ctx, "oauth state guard unavailable", "error", err)
		h.redirectError(w, r, origin, apperr.ReasonQueueUnavailable)
		return
	}
	if !fresh {
		slog.WarnContext(ctx, "oauth state replayed")
		h.redirectError(w, r, origin, apperr.ReasonStateReused)
		return
	}

	if _, err := h.service.CompleteFromCode(ctx, userID, code, origin); err != nil {
		slog.ErrorContext(ctx, "oauth completion failed", "reason", apperr.Reason(err), "error", err)
		h.redirectError(w, r, origin, apperr.Reason(err))
		return
	}

	http.Redirect(w, r, h.settingsLocation(origin, url.Values{"connected": {ProviderInstagram}}), http.StatusFound)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.Status(ctx, middleware.UserID(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "failed to load connection status", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": status})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.service.RefreshForUser(ctx, middleware.UserID(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "manual token refresh failed", "error", err)
		reason := apperr.Reason(err)
		switch reason {
		case apperr.ReasonNotConnected:
			h.writeError(ctx, w, strings.ToUpper(reason), err.Error(), http.StatusBadRequest)
		case apperr.ReasonConfiguration:
			h.writeError(ctx, w, "CONFIGURATION_ERROR", err.Error(), http.StatusInternalServerError)
		default:
			h.writeError(ctx, w, "REFRESH_FAILED", err.Error(), http.StatusBadGateway)
		}
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Disconnect(ctx, middleware.UserID(ctx)); err != nil {
		slog.ErrorContext(ctx, "failed to disconnect", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": map[string]bool{"ok": true}})
}

func (h *Handler) settingsLocation(origin string, params url.Values) string {
	base := h.settingsURL
	if strings.HasPrefix(base, "/") {
		base = strings.TrimRight(origin, "/") + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, origin, reason string) {
	params := url.Values{"error": {ProviderInstagram}, "reason": {reason}}
	http.Redirect(w, r, h.settingsLocation(origin, params), http.StatusFound)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
