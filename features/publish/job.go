package publish

import (
	"time"

	"socialpublish/features/integration"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// Pending reports whether the job may still be attempted.
func (s Status) Pending() bool {
	return s == StatusQueued || s == StatusRetrying || s == StatusProcessing
}

type Job struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id,omitempty"`
	UserID        string     `json:"user_id"`
	ListingID     string     `json:"listing_id,omitempty"`
	Vertical      string     `json:"vertical,omitempty"`
	Caption       string     `json:"caption"`
	ImageURL      string     `json:"image_url"`
	Status        Status     `json:"status"`
	MediaID       string     `json:"media_id,omitempty"`
	CreationID    string     `json:"creation_id,omitempty"`
	Permalink     string     `json:"permalink,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type NewJob struct {
	IntegrationID string
	UserID        string
	ListingID     string
	Vertical      string
	Caption       string
	ImageURL      string
	MaxAttempts   int
}

type Completion struct {
	MediaID     string
	CreationID  string
	Permalink   string
	PublishedAt *time.Time
}

// Result is the outcome of one processing pass, as returned to callers.
type Result struct {
	OK           bool       `json:"ok"`
	JobID        string     `json:"job_id"`
	Status       Status     `json:"status"`
	Queued       bool       `json:"queued"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	MediaID      string     `json:"media_id,omitempty"`
	CreationID   string     `json:"creation_id,omitempty"`
	Permalink    string     `json:"permalink,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
}

func resultFromJob(j *Job) *Result {
	res := &Result{
		OK:           j.Status != StatusFailed,
		JobID:        j.ID,
		Status:       j.Status,
		Queued:       j.Status.Pending(),
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		MediaID:      j.MediaID,
		CreationID:   j.CreationID,
		Permalink:    j.Permalink,
		PublishedAt:  j.PublishedAt,
	}
	if j.Status == StatusRetrying {
		res.NextRetryAt = j.NextRetryAt
	}
	if j.Status != StatusPublished {
		res.Error = j.Error
		res.ErrorCode = j.ErrorCode
	}
	return res
}

type QueueStats struct {
	Processed int `json:"processed"`
	Published int `json:"published"`
	Queued    int `json:"queued"`
	Failed    int `json:"failed"`
}

func (s *QueueStats) add(res *Result) {
	s.Processed++
	switch {
	case res.Status == StatusPublished:
		s.Published++
	case res.Status == StatusFailed:
		s.Failed++
	default:
		s.Queued++
	}
}

type SweepStats struct {
	QueueStats
	Recovered    int                      `json:"recovered"`
	TokenRefresh integration.RefreshStats `json:"token_refresh"`
}

type HistoryQuery struct {
	UserID       string
	Vertical     string
	Limit        int
	ProcessQueue bool
}
