package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"socialpublish/internal/middleware"
)

// Scheduler runs a sweep on a fixed interval until its context is cancelled.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	limit    int
}

func NewScheduler(s Sweeper, interval time.Duration, limit int) *Scheduler {
	return &Scheduler{sweeper: s, interval: interval, limit: limit}
}

// Run blocks until ctx is done. A non-positive interval disables the ticker.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweep scheduler started", "interval", s.interval.String(), "limit", s.limit)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "sweep scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx = middleware.WithCorrelationID(ctx, uuid.New().String())
	if _, err := s.sweeper.Sweep(ctx, s.limit); err != nil {
		slog.ErrorContext(ctx, "scheduled sweep failed", "error", err)
	}
}
