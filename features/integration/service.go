package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"socialpublish/internal/adapter/meta"
	"socialpublish/internal/apperr"
)

const CallbackPath = "/integrations/instagram/oauth/callback"

// Provider is the subset of the Graph client used by the connection flow.
type Provider interface {
	TokenRefresher
	AppID() string
	AuthorizationURL(p meta.AuthParams) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*meta.TokenResponse, error)
	ExchangeLongLived(ctx context.Context, shortLived string) (*meta.TokenResponse, error)
	ListPages(ctx context.Context, accessToken string) ([]meta.Page, error)
	Me(ctx context.Context, accessToken string) (*meta.Me, error)
	Permissions(ctx context.Context, accessToken string) ([]meta.Permission, error)
}

type Options struct {
	RedirectURI     string
	Scopes          []string
	RequiredScopes  []string
	AuthType        string
	PreferredPageID string
}

type Service struct {
	store    Store
	provider Provider
	tokens   *TokenManager
	opts     Options
	now      func() time.Time
}

func NewService(store Store, provider Provider, tokens *TokenManager, opts Options) *Service {
	if len(opts.RequiredScopes) == 0 {
		opts.RequiredScopes = opts.Scopes
	}
	return &Service{store: store, provider: provider, tokens: tokens, opts: opts, now: time.Now}
}

func (s *Service) RedirectURI(origin string) string {
	if s.opts.RedirectURI != "" {
		return s.opts.RedirectURI
	}
	return strings.TrimRight(origin, "/") + CallbackPath
}

func (s *Service) Scopes() []string {
	return s.opts.Scopes
}

func (s *Service) checkConfig() error {
	if missing := s.provider.MissingConfig(); len(missing) > 0 {
		return &apperr.ConfigurationError{Missing: missing}
	}
	return nil
}

// BuildAuthorizationURL returns the provider dialog URL for state.
func (s *Service) BuildAuthorizationURL(origin, state string) (string, error) {
	if err := s.checkConfig(); err != nil {
		return "", err
	}
	return s.provider.AuthorizationURL(meta.AuthParams{
		AppID:       s.provider.AppID(),
		RedirectURI: s.RedirectURI(origin),
		State:       state,
		Scopes:      s.opts.Scopes,
		AuthType:    s.opts.AuthType,
	}), nil
}

// CompleteFromCode finishes the OAuth handshake: code exchange, long-lived
// upgrade, account discovery, then persistence.
func (s *Service) CompleteFromCode(ctx context.Context, userID, code, origin string) (*Credential, error) {
	if err := s.checkConfig(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperr.NewFlowError(apperr.ReasonMissingCode, "authorization code missing")
	}

	short, err := s.provider.ExchangeCode(ctx, code, s.RedirectURI(origin))
	if err != nil {
		return nil, connectionError(apperr.ReasonTokenExchangeFailed, err)
	}

	long, err := s.provider.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, connectionError(apperr.ReasonTokenExchangeFailed, err)
	}

	acct, err := s.DiscoverAccount(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	cred := Credential{
		UserID:      userID,
		AccessToken: long.AccessToken,
		TokenType:   long.TokenType,
		ExpiresAt:   long.ExpiresAt(s.now()),
		PageID:      acct.PageID,
		PageName:    acct.PageName,
		AccountID:   acct.AccountID,
		Username:    acct.Username,
	}

	id, err := s.store.Upsert(ctx, userID, cred)
	if err != nil {
		return nil, &apperr.QueueError{Op: "upsert_integration", Err: err}
	}
	cred.IntegrationID = id

	slog.InfoContext(ctx, "instagram connected", "integration_id", id, "account_id", acct.AccountID, "page_id", acct.PageID)
	return &cred, nil
}

// DiscoverAccount selects the publishable account reachable by token.
func (s *Service) DiscoverAccount(ctx context.Context, token string) (*Account, error) {
	pages, err := s.provider.ListPages(ctx, token)
	if err != nil {
		return nil, connectionError(apperr.ReasonPagesFetchFailed, err)
	}
	if len(pages) == 0 {
		return nil, s.discoveryError(ctx, token, apperr.ReasonNoPagesAccess, nil)
	}

	var candidates []Account
	for _, p := range pages {
		ig, ok := p.Instagram()
		if !ok {
			continue
		}
		candidates = append(candidates, Account{PageID: p.ID, PageName: p.Name, AccountID: ig.ID, Username: ig.Username})
	}

	if preferred := strings.TrimSpace(s.opts.PreferredPageID); preferred != "" {
		for _, c := range candidates {
			if c.PageID == preferred {
				return &c, nil
			}
		}
		if len(candidates) > 0 {
			return nil, s.discoveryError(ctx, token, apperr.ReasonPageNotAllowed, pageNames(pages, 5))
		}
	} else if len(candidates) > 0 {
		return &candidates[0], nil
	}

	return nil, s.discoveryError(ctx, token, apperr.ReasonNoInstagramAccount, pageNames(pages, 5))
}

// discoveryError gathers who the token belongs to and which scopes were
// granted. Both lookups are best-effort.
func (s *Service) discoveryError(ctx context.Context, token, reason string, accounts []string) error {
	var (
		me    *meta.Me
		perms []meta.Permission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.provider.Me(gctx, token)
		if err != nil {
			slog.WarnContext(gctx, "token user lookup failed", "error", err)
			return nil
		}
		me = m
		return nil
	})
	g.Go(func() error {
		p, err := s.provider.Permissions(gctx, token)
		if err != nil {
			slog.WarnContext(gctx, "permission lookup failed", "error", err)
			return nil
		}
		perms = p
		return nil
	})
	_ = g.Wait()

	var granted []string
	for _, p := range perms {
		if p.Status == "granted" {
			granted = append(granted, p.Permission)
		}
	}
	var missing []string
	for _, req := range s.opts.RequiredScopes {
		if !slices.Contains(granted, req) {
			missing = append(missing, req)
		}
	}

	tokenUser := "unknown"
	switch {
	case me != nil && me.Name != "":
		tokenUser = fmt.Sprintf("%s (%s)", me.Name, me.ID)
	case me != nil && me.ID != "":
		tokenUser = me.ID
	}

	return &apperr.AccountDiscoveryError{
		Reason:    reason,
		TokenUser: tokenUser,
		Granted:   granted,
		Required:  s.opts.RequiredScopes,
		Missing:   missing,
		Accounts:  accounts,
	}
}

// Status reports the user's connection. A due refresh is attempted but its
// failure does not hide the connection.
func (s *Service) Status(ctx context.Context, userID string) (*ConnectionStatus, error) {
	cred, err := s.store.GetByUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return nil, &apperr.QueueError{Op: "get_integration", Err: err}
	}
	if cred.AccountID == "" {
		return &ConnectionStatus{Connected: false}, nil
	}

	current := *cred
	if refreshed, _, err := s.tokens.RefreshIfNeeded(ctx, current); err != nil {
		slog.WarnContext(ctx, "status refresh failed", "integration_id", cred.IntegrationID, "error", err)
	} else {
		current = refreshed
	}

	return &ConnectionStatus{
		Connected: true,
		AccountID: current.AccountID,
		Username:  current.Username,
		PageName:  current.PageName,
		ExpiresAt: current.ExpiresAt,
	}, nil
}

// Disconnect removes the integration and its credential. Publish jobs are kept.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return &apperr.QueueError{Op: "delete_integration", Err: err}
	}
	slog.InfoContext(ctx, "instagram disconnected")
	return nil
}

func (s *Service) RefreshForUser(ctx context.Context, userID string) (*RefreshStatus, error) {
	cred, err := s.store.GetByUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NewFlowError(apperr.ReasonNotConnected, "instagram not connected")
	}
	if err != nil {
		return nil, &apperr.QueueError{Op: "get_integration", Err: err}
	}

	next, refreshed, err := s.tokens.RefreshIfNeeded(ctx, *cred)
	if err != nil {
		return nil, err
	}
	return &RefreshStatus{Refreshed: refreshed, ExpiresAt: next.ExpiresAt}, nil
}

func connectionError(reason string, err error) error {
	ce := &apperr.ConnectionError{Reason: reason, Err: err}
	var apiErr *meta.APIError
	if errors.As(err, &apiErr) {
		ce.Op = apiErr.Op
		ce.StatusCode = apiErr.StatusCode
		ce.Code = apiErr.Code
		ce.Message = apiErr.Message
	}
	return ce
}

func pageNames(pages []meta.Page, limit int) []string {
	var names []string
	for _, p := range pages {
		if p.Name == "" {
			continue
		}
		names = append(names, p.Name)
		if len(names) == limit {
			break
		}
	}
	return names
}
