package meta

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	OpExchangeCode      = "exchange_code"
	OpExchangeLongLived = "exchange_long_lived"
	OpRefreshToken      = "refresh_long_lived"
)

type AuthParams struct {
	AppID       string
	RedirectURI string
	State       string
	Scopes      []string
	AuthType    string
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExpiresAt converts ExpiresIn to an absolute time. Nil means the token does not
// report an expiry.
func (t TokenResponse) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

func (c *Client) oauthConfig(appID, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     appID,
		ClientSecret: c.appSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.dialogURL + "/" + c.version + "/dialog/oauth",
			TokenURL:  c.endpoint("oauth/access_token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the OAuth dialog URL. It performs no I/O.
func (c *Client) AuthorizationURL(p AuthParams) string {
	appID := p.AppID
	if appID == "" {
		appID = c.appID
	}

	scopes := make([]string, 0, len(p.Scopes))
	for _, s := range p.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	var opts []oauth2.AuthCodeOption
	if authType := strings.TrimSpace(p.AuthType); authType != "" {
		opts = append(opts, oauth2.SetAuthURLParam("auth_type", authType))
	}
	return c.oauthConfig(appID, p.RedirectURI, scopes).AuthCodeURL(p.State, opts...)
}

// ExchangeCode trades an authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	tok, err := c.oauthConfig(c.appID, redirectURI, nil).Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, parseAPIError(OpExchangeCode, retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return nil, &APIError{Op: OpExchangeCode, Message: stripURL(err).Error()}
	}

	resp := &TokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	return resp, nil
}

// ExchangeLongLived upgrades a short-lived token to a long-lived one.
func (c *Client) ExchangeLongLived(ctx context.Context, shortLived string) (*TokenResponse, error) {
	return c.fbExchange(ctx, OpExchangeLongLived, shortLived)
}

// RefreshLongLivedToken rotates a long-lived token before it expires.
func (c *Client) RefreshLongLivedToken(ctx context.Context, token string) (*TokenResponse, error) {
	return c.fbExchange(ctx, OpRefreshToken, token)
}

func (c *Client) fbExchange(ctx context.Context, op, token string) (*TokenResponse, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", c.appID)
	params.Set("client_secret", c.appSecret)
	params.Set("fb_exchange_token", token)

	var resp TokenResponse
	if err := c.get(ctx, op, "oauth/access_token", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
