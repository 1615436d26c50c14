package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Reason codes surfaced to users and redirect URLs.
const (
	ReasonConfiguration       = "configuration_missing"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonPagesFetchFailed    = "pages_fetch_failed"
	ReasonNoPagesAccess       = "no_pages_access"
	ReasonNoInstagramAccount  = "no_instagram_account_linked"
	ReasonPageNotAllowed      = "page_not_allowed"
	ReasonNotConnected        = "not_connected"
	ReasonInvalidState        = "invalid_state"
	ReasonMissingCode         = "missing_code"
	ReasonNotLoggedIn         = "not_logged_in"
	ReasonWorkerUnauthorized  = "worker_unauthorized"
	ReasonMaxAttempts         = "max_attempts"
	ReasonStateReused         = "state_reused"
	ReasonInvalidInput        = "invalid_input"
	ReasonJobNotFound         = "job_not_found"
	ReasonTokenRefreshFailed  = "token_refresh_failed"
	ReasonStaleProcessing     = "stale_processing"
	ReasonQueueUnavailable    = "queue_unavailable"
	ReasonPublishFailed       = "publish_failed"
	ReasonConnectionFailed    = "connection_failed"
	ReasonUnknown             = "unknown"
)

var ErrNotFound = errors.New("not found")

// ConfigurationError means the provider app credentials are not configured.
// It is never retried.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "provider app not configured: missing " + strings.Join(e.Missing, ", ")
}

// ConnectionError is an OAuth or account fetch failure while linking a user.
type ConnectionError struct {
	Reason     string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.Op != "" {
		b.WriteString(" (" + e.Op + ")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" code=" + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AccountDiscoveryError carries the diagnostics users need to fix a connection
// that authorized the wrong scopes or pages.
type AccountDiscoveryError struct {
	Reason    string
	TokenUser string
	Granted   []string
	Required  []string
	Missing   []string
	Accounts  []string
}

func (e *AccountDiscoveryError) Error() string {
	parts := []string{e.Reason}
	if e.TokenUser != "" {
		parts = append(parts, "token_user="+e.TokenUser)
	}
	if len(e.Granted) > 0 {
		parts = append(parts, "granted="+strings.Join(e.Granted, ","))
	}
	if len(e.Required) > 0 {
		parts = append(parts, "required="+strings.Join(e.Required, ","))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing="+strings.Join(e.Missing, ","))
	}
	if len(e.Accounts) > 0 {
		parts = append(parts, "pages="+strings.Join(e.Accounts, ","))
	}
	return strings.Join(parts, " ")
}

// QueueError wraps a failure of the job or credential store itself.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// PublishError is a provider failure already classified for the retry state machine.
type PublishError struct {
	Retryable bool
	Code      string
	Err       error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return "publish failed"
	}
	return e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }

// FlowError is a generic reason-coded failure.
type FlowError struct {
	Reason  string
	Message string
}

func (e *FlowError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Message
}

func NewFlowError(reason, message string) *FlowError {
	return &FlowError{Reason: reason, Message: message}
}

// Reason maps any error to a user-facing reason code.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return ReasonConfiguration
	}
	var discErr *AccountDiscoveryError
	if errors.As(err, &discErr) {
		return discErr.Reason
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		if connErr.Reason == "" {
			return ReasonConnectionFailed
		}
		return connErr.Reason
	}
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Reason
	}
	var queueErr *QueueError
	if errors.As(err, &queueErr) {
		return ReasonQueueUnavailable
	}
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		if pubErr.Code != "" {
			return pubErr.Code
		}
		return ReasonPublishFailed
	}
	if errors.Is(err, ErrNotFound) {
		return ReasonJobNotFound
	}
	return ReasonUnknown
}
