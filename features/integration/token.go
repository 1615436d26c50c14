package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"socialpublish/internal/adapter/meta"
	"socialpublish/internal/apperr"
)

const DefaultRefreshWindow = 7 * 24 * time.Hour

// TokenRefresher rotates long-lived provider tokens.
type TokenRefresher interface {
	MissingConfig() []string
	RefreshLongLivedToken(ctx context.Context, token string) (*meta.TokenResponse, error)
}

// TokenManager decides when a credential needs rotating and persists the result.
type TokenManager struct {
	store  Store
	client TokenRefresher
	window time.Duration
	now    func() time.Time
}

func NewTokenManager(store Store, client TokenRefresher, window time.Duration) *TokenManager {
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	return &TokenManager{store: store, client: client, window: window, now: time.Now}
}

// ShouldRefresh reports whether expiresAt falls within the refresh window.
// Credentials without an expiry never need refreshing.
func (m *TokenManager) ShouldRefresh(expiresAt *time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return false
	}
	return expiresAt.Sub(m.now()) <= m.window
}

// RefreshIfNeeded rotates cred when it is close to expiry. The returned bool
// reports whether a refresh happened. Failures are returned as-is so callers
// can decide whether a stale token is acceptable.
func (m *TokenManager) RefreshIfNeeded(ctx context.Context, cred Credential) (Credential, bool, error) {
	if !m.ShouldRefresh(cred.ExpiresAt) {
		return cred, false, nil
	}
	if missing := m.client.MissingConfig(); len(missing) > 0 {
		return cred, false, &apperr.ConfigurationError{Missing: missing}
	}

	tok, err := m.client.RefreshLongLivedToken(ctx, cred.AccessToken)
	if err != nil {
		return cred, false, fmt.Errorf("refresh token: %w", err)
	}

	next := cred
	if tok.AccessToken != "" {
		next.AccessToken = tok.AccessToken
	}
	if tok.TokenType != "" {
		next.TokenType = tok.TokenType
	}
	if exp := tok.ExpiresAt(m.now()); exp != nil {
		next.ExpiresAt = exp
	}

	if err := m.store.UpdateToken(ctx, next.IntegrationID, next.AccessToken, next.TokenType, next.ExpiresAt); err != nil {
		return cred, false, &apperr.QueueError{Op: "update_token", Err: err}
	}

	slog.InfoContext(ctx, "provider token refreshed", "integration_id", next.IntegrationID, "expires_at", next.ExpiresAt)
	return next, true, nil
}

// SweepExpiring refreshes up to limit credentials expiring within the window,
// soonest first. Credentials past expiry are skipped; they need a reconnect.
// Individual failures are counted, not returned.
func (m *TokenManager) SweepExpiring(ctx context.Context, limit int) (RefreshStats, error) {
	var stats RefreshStats

	now := m.now()
	creds, err := m.store.ListExpiring(ctx, now, now.Add(m.window), limit)
	if err != nil {
		return stats, &apperr.QueueError{Op: "list_expiring", Err: err}
	}
	stats.Checked = len(creds)

	for _, cred := range creds {
		if _, _, err := m.RefreshIfNeeded(ctx, cred); err != nil {
			stats.Failed++
			slog.WarnContext(ctx, "token refresh failed", "integration_id", cred.IntegrationID, "error", err)
			continue
		}
		stats.Refreshed++
	}

	if stats.Checked > 0 {
		slog.InfoContext(ctx, "token sweep finished", "checked", stats.Checked, "refreshed", stats.Refreshed, "failed", stats.Failed)
	}
	return stats, nil
}
