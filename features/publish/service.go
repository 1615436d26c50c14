package publish

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"socialpublish/features/integration"
	"socialpublish/internal/apperr"
	"socialpublish/internal/retry"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	historyProcessLimit = 5
	DefaultSweepLimit   = 25
)

// Connections looks up a user's active integration.
type Connections interface {
	GetByUser(ctx context.Context, userID string) (*integration.Credential, error)
}

type TokenSweeper interface {
	SweepExpiring(ctx context.Context, limit int) (integration.RefreshStats, error)
}

type Options struct {
	Policy            retry.Policy
	ProcessingLease   time.Duration
	TokenRefreshBatch int
}

type Service struct {
	store       Store
	processor   *Processor
	connections Connections
	tokens      TokenSweeper
	opts        Options
	now         func() time.Time
}

func NewService(store Store, processor *Processor, connections Connections, tokens TokenSweeper, opts Options) *Service {
	if opts.TokenRefreshBatch <= 0 {
		opts.TokenRefreshBatch = 25
	}
	if opts.ProcessingLease <= 0 {
		opts.ProcessingLease = 15 * time.Minute
	}
	return &Service{
		store:       store,
		processor:   processor,
		connections: connections,
		tokens:      tokens,
		opts:        opts,
		now:         time.Now,
	}
}

type Request struct {
	UserID    string
	ImageURL  string
	Caption   string
	ListingID string
	Vertical  string
	Origin    string
}

// Publish enqueues a job for the user's connected account and runs its first
// attempt inline.
func (s *Service) Publish(ctx context.Context, req Request) (*Result, error) {
	imageURL, err := resolveImageURL(req.ImageURL, req.Origin)
	if err != nil {
		return nil, err
	}

	cred, err := s.connections.GetByUser(ctx, req.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NewFlowError(apperr.ReasonNotConnected, "instagram not connected")
	}
	if err != nil {
		return nil, &apperr.QueueError{Op: "get_integration", Err: err}
	}
	if cred.AccessToken == "" || cred.AccountID == "" {
		return nil, apperr.NewFlowError(apperr.ReasonNotConnected, "instagram not connected")
	}

	id, err := s.store.Enqueue(ctx, NewJob{
		IntegrationID: cred.IntegrationID,
		UserID:        req.UserID,
		ListingID:     req.ListingID,
		Vertical:      req.Vertical,
		Caption:       req.Caption,
		ImageURL:      imageURL,
		MaxAttempts:   s.opts.Policy.Attempts(),
	})
	if err != nil {
		return nil, &apperr.QueueError{Op: "enqueue", Err: err}
	}
	slog.InfoContext(ctx, "publish job enqueued", "job_id", id, "listing_id", req.ListingID, "vertical", req.Vertical)

	return s.processor.Process(ctx, id)
}

// ProcessDue runs due jobs one after another. An empty userID processes any
// user's jobs.
func (s *Service) ProcessDue(ctx context.Context, userID string, limit int) (QueueStats, error) {
	var stats QueueStats

	jobs, err := s.store.FetchDue(ctx, limit, userID)
	if err != nil {
		return stats, &apperr.QueueError{Op: "fetch_due", Err: err}
	}

	for _, j := range jobs {
		res, err := s.processor.Process(ctx, j.ID)
		if err != nil {
			return stats, err
		}
		stats.add(res)
	}
	return stats, nil
}

// Sweep refreshes expiring tokens, releases stale claims and then processes
// up to limit due jobs.
func (s *Service) Sweep(ctx context.Context, limit int) (*SweepStats, error) {
	stats := &SweepStats{}

	tokenStats, err := s.tokens.SweepExpiring(ctx, s.opts.TokenRefreshBatch)
	if err != nil {
		slog.WarnContext(ctx, "token sweep failed", "error", err)
	}
	stats.TokenRefresh = tokenStats

	recovered, err := s.store.RecoverStale(ctx, s.now().Add(-s.opts.ProcessingLease))
	if err != nil {
		return stats, &apperr.QueueError{Op: "recover_stale", Err: err}
	}
	if recovered > 0 {
		slog.WarnContext(ctx, "released stale processing jobs", "count", recovered)
	}
	stats.Recovered = recovered

	queue, err := s.ProcessDue(ctx, "", limit)
	stats.QueueStats = queue
	if err != nil {
		return stats, err
	}

	slog.InfoContext(ctx, "sweep finished",
		"processed", stats.Processed,
		"published", stats.Published,
		"queued", stats.Queued,
		"failed", stats.Failed,
		"recovered", stats.Recovered,
	)
	return stats, nil
}

// History lists the user's jobs newest first, optionally making due progress
// on them beforehand.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]Job, error) {
	if q.ProcessQueue {
		if _, err := s.ProcessDue(ctx, q.UserID, historyProcessLimit); err != nil {
			slog.WarnContext(ctx, "opportunistic queue pass failed", "error", err)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	jobs, err := s.store.ListHistory(ctx, q.UserID, q.Vertical, limit)
	if err != nil {
		return nil, &apperr.QueueError{Op: "list_history", Err: err}
	}
	return jobs, nil
}

func resolveImageURL(raw, origin string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.NewFlowError(apperr.ReasonInvalidInput, "image_url is required")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", apperr.NewFlowError(apperr.ReasonInvalidInput, "image_url is not a valid URL")
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(origin)
	if err != nil || !base.IsAbs() {
		return "", apperr.NewFlowError(apperr.ReasonInvalidInput, "image_url must be absolute")
	}
	return base.ResolveReference(ref).String(), nil
}
