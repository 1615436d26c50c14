package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultGraphVersion = "v19.0"
	DefaultGraphURL     = "https://graph.facebook.com"
	DefaultDialogURL    = "https://www.facebook.com"
)

type Options struct {
	AppID     string
	AppSecret string
	Version   string
	GraphURL  string
	DialogURL string
	Timeout   time.Duration
	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
}

// Client talks to the Meta Graph API. It is stateless apart from its HTTP client.
type Client struct {
	appID     string
	appSecret string
	version   string
	graphURL  string
	dialogURL string
	client    *http.Client
}

func NewClient(opts Options) *Client {
	if opts.Version == "" {
		opts.Version = DefaultGraphVersion
	}
	if opts.GraphURL == "" {
		opts.GraphURL = DefaultGraphURL
	}
	if opts.DialogURL == "" {
		opts.DialogURL = DefaultDialogURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		transport = &limitedTransport{
			base:    transport,
			limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		}
	}

	return &Client{
		appID:     opts.AppID,
		appSecret: opts.AppSecret,
		version:   opts.Version,
		graphURL:  strings.TrimRight(opts.GraphURL, "/"),
		dialogURL: strings.TrimRight(opts.DialogURL, "/"),
		client:    &http.Client{Timeout: opts.Timeout, Transport: transport},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.graphURL = strings.TrimRight(url, "/")
}

func (c *Client) AppID() string {
	return c.appID
}

// MissingConfig lists the app credentials that are not set.
func (c *Client) MissingConfig() []string {
	var missing []string
	if c.appID == "" {
		missing = append(missing, "META_APP_ID")
	}
	if c.appSecret == "" {
		missing = append(missing, "META_APP_SECRET")
	}
	return missing
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// APIError is a non-2xx Graph API response.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	var details []string
	if e.Message != "" {
		details = append(details, e.Message)
	}
	if e.Type != "" {
		details = append(details, "type="+e.Type)
	}
	if e.Code != "" {
		details = append(details, "code="+e.Code)
	}
	if e.Op == OpCreateMedia && e.Code == "9004" {
		details = append(details, "hint=the image must be a publicly reachable JPEG")
	}

	msg := e.Op
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if len(details) > 0 {
		sep := "; "
		if e.StatusCode == 0 {
			sep = ": "
		}
		msg += sep + strings.Join(details, "; ")
	}
	return msg
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

type graphErrorBody struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func parseAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: status}

	var parsed graphErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			if len(text) > 400 {
				text = text[:400]
			}
			apiErr.Message = text
		}
		return apiErr
	}

	apiErr.Message = parsed.Error.Message
	apiErr.Type = parsed.Error.Type
	if raw := strings.Trim(string(parsed.Error.Code), `"`); raw != "" && raw != "null" {
		if _, err := strconv.Atoi(raw); err == nil {
			apiErr.Code = raw
		}
	}
	return apiErr
}

func (c *Client) endpoint(path string) string {
	return c.graphURL + "/" + c.version + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error embeds the full URL, which carries the access token.
		return fmt.Errorf("%s: %w", op, stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return parseAPIError(op, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func stripURL(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return urlErr.Err
	}
	return err
}
