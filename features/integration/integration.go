package integration

import "time"

const ProviderInstagram = "instagram"

// Credential is the token material and discovered account of one integration.
type Credential struct {
	IntegrationID string     `json:"integration_id"`
	UserID        string     `json:"user_id"`
	AccessToken   string     `json:"-"`
	TokenType     string     `json:"token_type,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at"`
	PageID        string     `json:"page_id,omitempty"`
	PageName      string     `json:"page_name,omitempty"`
	AccountID     string     `json:"account_id"`
	Username      string     `json:"username,omitempty"`
}

// Account is the publishable account selected during discovery.
type Account struct {
	PageID    string `json:"page_id"`
	PageName  string `json:"page_name"`
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

type ConnectionStatus struct {
	Connected bool       `json:"connected"`
	AccountID string     `json:"account_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	PageName  string     `json:"page_name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type RefreshStatus struct {
	Refreshed bool       `json:"refreshed"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type RefreshStats struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}
