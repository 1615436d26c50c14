package meta

import (
	"context"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"
)

const (
	OpListPages   = "list_pages"
	OpPageLookup  = "page_lookup"
	OpMe          = "me"
	OpPermissions = "permissions"

	igFields = "instagram_business_account{id,username},connected_instagram_account{id,username}"
)

type InstagramAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Page is a Facebook page managed by the token user.
type Page struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	AccessToken      string            `json:"access_token"`
	BusinessAccount  *InstagramAccount `json:"instagram_business_account"`
	ConnectedAccount *InstagramAccount `json:"connected_instagram_account"`
}

// Instagram returns the publishable account linked to the page, preferring the
// business account over the connected one.
func (p Page) Instagram() (InstagramAccount, bool) {
	var acct InstagramAccount
	if p.BusinessAccount != nil {
		acct.ID = p.BusinessAccount.ID
		acct.Username = p.BusinessAccount.Username
	}
	if acct.ID == "" && p.ConnectedAccount != nil {
		acct.ID = p.ConnectedAccount.ID
	}
	if acct.Username == "" && p.ConnectedAccount != nil {
		acct.Username = p.ConnectedAccount.Username
	}
	return acct, acct.ID != ""
}

type Me struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Permission struct {
	Permission string `json:"permission"`
	Status     string `json:"status"`
}

// ListPages returns the pages reachable by the token. Pages whose listing omits
// the Instagram fields are looked up individually with the page token; failed
// lookups leave the page as listed.
func (c *Client) ListPages(ctx context.Context, accessToken string) ([]Page, error) {
	params := url.Values{}
	params.Set("fields", "name,access_token,"+igFields)
	params.Set("access_token", accessToken)

	var resp struct {
		Data []Page `json:"data"`
	}
	if err := c.get(ctx, OpListPages, "me/accounts", params, &resp); err != nil {
		return nil, err
	}
	pages := resp.Data

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range pages {
		if _, ok := pages[i].Instagram(); ok || pages[i].AccessToken == "" {
			continue
		}
		g.Go(func() error {
			lookup, err := c.pageInstagram(gctx, pages[i].ID, pages[i].AccessToken)
			if err != nil {
				slog.WarnContext(gctx, "page instagram lookup failed", "page_id", pages[i].ID, "error", err)
				return nil
			}
			pages[i].BusinessAccount = lookup.BusinessAccount
			pages[i].ConnectedAccount = lookup.ConnectedAccount
			return nil
		})
	}
	_ = g.Wait()

	return pages, nil
}

func (c *Client) pageInstagram(ctx context.Context, pageID, pageToken string) (*Page, error) {
	params := url.Values{}
	params.Set("fields", igFields)
	params.Set("access_token", pageToken)

	var page Page
	if err := c.get(ctx, OpPageLookup, url.PathEscape(pageID), params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) Me(ctx context.Context, accessToken string) (*Me, error) {
	params := url.Values{}
	params.Set("fields", "id,name")
	params.Set("access_token", accessToken)

	var me Me
	if err := c.get(ctx, OpMe, "me", params, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (c *Client) Permissions(ctx context.Context, accessToken string) ([]Permission, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)

	var resp struct {
		Data []Permission `json:"data"`
	}
	if err := c.get(ctx, OpPermissions, "me/permissions", params, &resp); err != nil {
		return nil, err
	}

	perms := make([]Permission, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.Permission == "" || p.Status == "" {
			continue
		}
		perms = append(perms, p)
	}
	return perms, nil
}
