package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"socialpublish/features/integration"
	"socialpublish/internal/adapter/meta"
	"socialpublish/internal/apperr"
	"socialpublish/internal/config"
	"socialpublish/internal/middleware"
	"socialpublish/internal/retry"
)

const (
	msgMaxAttempts  = "Max retry attempts reached"
	msgNotConnected = "instagram not connected"
	msgPublishFail  = "instagram publish failed"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// CredentialSource resolves the credential behind a job's integration.
type CredentialSource interface {
	GetCredential(ctx context.Context, integrationID string) (*integration.Credential, error)
}

type TokenRefresher interface {
	RefreshIfNeeded(ctx context.Context, cred integration.Credential) (integration.Credential, bool, error)
}

// MediaPublisher is the provider side of the two-phase publish.
type MediaPublisher interface {
	Publish(ctx context.Context, igUserID, accessToken, imageURL, caption string) (*meta.PublishResult, error)
	MediaDetails(ctx context.Context, mediaID, accessToken string) (*meta.MediaDetails, error)
}

type Processor struct {
	store  Store
	creds  CredentialSource
	tokens TokenRefresher
	media  MediaPublisher
	pub    EventPublisher
	policy retry.Policy
	now    func() time.Time
}

func NewProcessor(store Store, creds CredentialSource, tokens TokenRefresher, media MediaPublisher, pub EventPublisher, policy retry.Policy) *Processor {
	return &Processor{
		store:  store,
		creds:  creds,
		tokens: tokens,
		media:  media,
		pub:    pub,
		policy: policy,
		now:    time.Now,
	}
}

// Process runs one attempt of the job. Job-level failures are recorded on the
// row and reported through the Result. Only store failures are returned as
// errors.
func (p *Processor) Process(ctx context.Context, id string) (*Result, error) {
	ctx = middleware.WithJobID(ctx, id)

	job, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NewFlowError(apperr.ReasonJobNotFound, "publish job not found")
		}
		return nil, &apperr.QueueError{Op: "get", Err: err}
	}

	switch job.Status {
	case StatusPublished, StatusFailed:
		return resultFromJob(job), nil
	case StatusProcessing:
		slog.InfoContext(ctx, "job already being processed")
		return resultFromJob(job), nil
	}

	if job.AttemptCount >= job.MaxAttempts {
		msg, code := job.Error, job.ErrorCode
		if msg == "" {
			msg = msgMaxAttempts
		}
		if code == "" {
			code = apperr.ReasonMaxAttempts
		}
		slog.WarnContext(ctx, "job exhausted before claim", "attempt_count", job.AttemptCount, "max_attempts", job.MaxAttempts)
		return p.fail(ctx, job, job.AttemptCount, msg, code)
	}

	nextAttempt := job.AttemptCount + 1
	claimed, err := p.store.Claim(ctx, job.ID, nextAttempt)
	if err != nil {
		return nil, &apperr.QueueError{Op: "claim", Err: err}
	}
	if !claimed {
		slog.InfoContext(ctx, "claim lost", "attempt", nextAttempt)
		return p.reload(ctx, job.ID)
	}
	slog.InfoContext(ctx, "job claimed", "attempt", nextAttempt, "max_attempts", job.MaxAttempts)

	cred, err := p.credential(ctx, job)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return p.fail(ctx, job, nextAttempt, msgNotConnected, apperr.ReasonNotConnected)
	}

	refreshed, _, err := p.tokens.RefreshIfNeeded(ctx, *cred)
	if err != nil {
		var cfgErr *apperr.ConfigurationError
		if errors.As(err, &cfgErr) {
			return p.fail(ctx, job, nextAttempt, err.Error(), apperr.ReasonConfiguration)
		}
		return p.settle(ctx, job, nextAttempt, &apperr.PublishError{
			Retryable: true,
			Code:      apperr.ReasonTokenRefreshFailed,
			Err:       err,
		})
	}

	published, err := p.media.Publish(ctx, refreshed.AccountID, refreshed.AccessToken, job.ImageURL, job.Caption)
	if err != nil {
		return p.settle(ctx, job, nextAttempt, classify(err))
	}

	done := Completion{MediaID: published.MediaID, CreationID: published.CreationID}
	if details, err := p.media.MediaDetails(ctx, published.MediaID, refreshed.AccessToken); err != nil {
		slog.WarnContext(ctx, "media details lookup failed", "media_id", published.MediaID, "error", err)
	} else {
		done.Permalink = details.Permalink
		done.PublishedAt = parseTimestamp(details.Timestamp)
	}

	if err := p.store.Complete(ctx, job.ID, done); err != nil {
		return p.transitionFailed(ctx, job.ID, "complete", err)
	}

	job.Status = StatusPublished
	job.AttemptCount = nextAttempt
	job.MediaID = done.MediaID
	job.CreationID = done.CreationID
	job.Permalink = done.Permalink
	job.PublishedAt = done.PublishedAt
	job.Error, job.ErrorCode, job.NextRetryAt = "", "", nil

	slog.InfoContext(ctx, "job published", "media_id", done.MediaID, "attempt", nextAttempt)
	p.emit(ctx, job)
	return resultFromJob(job), nil
}

func (p *Processor) credential(ctx context.Context, job *Job) (*integration.Credential, error) {
	if job.IntegrationID == "" {
		return nil, nil
	}
	cred, err := p.creds.GetCredential(ctx, job.IntegrationID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.QueueError{Op: "get_credential", Err: err}
	}
	if cred.AccessToken == "" || cred.AccountID == "" {
		return nil, nil
	}
	return cred, nil
}

// settle applies the retry policy to a failed attempt.
func (p *Processor) settle(ctx context.Context, job *Job, attempt int, perr *apperr.PublishError) (*Result, error) {
	msg := perr.Error()
	if perr.Retryable && attempt < job.MaxAttempts {
		next := p.policy.NextRetryAt(p.now(), attempt).UTC()
		if err := p.store.ScheduleRetry(ctx, job.ID, next, msg, perr.Code); err != nil {
			return p.transitionFailed(ctx, job.ID, "schedule_retry", err)
		}

		job.Status = StatusRetrying
		job.AttemptCount = attempt
		job.NextRetryAt = &next
		job.Error, job.ErrorCode = msg, perr.Code

		slog.WarnContext(ctx, "publish attempt failed, retry scheduled", "attempt", attempt, "next_retry_at", next, "error_code", perr.Code, "error", msg)
		p.emit(ctx, job)
		return resultFromJob(job), nil
	}
	return p.fail(ctx, job, attempt, msg, perr.Code)
}

func (p *Processor) fail(ctx context.Context, job *Job, attempt int, msg, code string) (*Result, error) {
	if err := p.store.Fail(ctx, job.ID, msg, code); err != nil {
		return p.transitionFailed(ctx, job.ID, "fail", err)
	}

	job.Status = StatusFailed
	job.AttemptCount = attempt
	job.NextRetryAt = nil
	job.Error, job.ErrorCode = msg, code

	slog.ErrorContext(ctx, "publish job failed", "attempt", attempt, "error_code", code, "error", msg)
	p.emit(ctx, job)
	return resultFromJob(job), nil
}

// transitionFailed handles a store error on a state transition. A conflict
// means someone else moved the job, so the current row is reported instead.
func (p *Processor) transitionFailed(ctx context.Context, id, op string, err error) (*Result, error) {
	if errors.Is(err, ErrStateConflict) {
		slog.WarnContext(ctx, "job moved during processing", "op", op)
		return p.reload(ctx, id)
	}
	return nil, &apperr.QueueError{Op: op, Err: err}
}

func (p *Processor) reload(ctx context.Context, id string) (*Result, error) {
	latest, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, &apperr.QueueError{Op: "get", Err: err}
	}
	return resultFromJob(latest), nil
}

func (p *Processor) emit(ctx context.Context, job *Job) {
	if p.pub == nil {
		return
	}
	body, err := json.Marshal(resultEvent{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        job.Status,
		AttemptCount:  job.AttemptCount,
		MediaID:       job.MediaID,
		ErrorCode:     job.ErrorCode,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal result event", "error", err)
		return
	}
	if err := p.pub.Publish(config.TopicPublishResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish result event", "topic", config.TopicPublishResult, "error", err)
	}
}

type resultEvent struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	Status        Status `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	MediaID       string `json:"media_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func classify(err error) *apperr.PublishError {
	if err == nil {
		err = errors.New(msgPublishFail)
	}
	return &apperr.PublishError{
		Retryable: retry.IsRetryable(err),
		Code:      retry.ErrorCode(err),
		Err:       err,
	}
}

// Graph timestamps look like 2024-05-01T10:00:00+0000.
func parseTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
