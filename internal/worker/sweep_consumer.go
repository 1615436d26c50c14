package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"socialpublish/features/publish"
	"socialpublish/internal/middleware"
)

type Sweeper interface {
	Sweep(ctx context.Context, limit int) (*publish.SweepStats, error)
}

// SweepPayload is the optional body of a publish.sweep message.
type SweepPayload struct {
	Limit         int    `json:"limit,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type SweepConsumer struct {
	sweeper      Sweeper
	defaultLimit int
	timeout      time.Duration
}

func NewSweepConsumer(s Sweeper, defaultLimit int, timeout time.Duration) *SweepConsumer {
	if defaultLimit <= 0 {
		defaultLimit = publish.DefaultSweepLimit
	}
	return &SweepConsumer{sweeper: s, defaultLimit: defaultLimit, timeout: timeout}
}

// HandleMessage runs one sweep per message. Store failures are returned so
// NSQ requeues the message; malformed bodies are dropped.
func (c *SweepConsumer) HandleMessage(m *nsq.Message) error {
	var payload SweepPayload
	var decodeErr error
	if len(m.Body) > 0 {
		decodeErr = json.Unmarshal(m.Body, &payload)
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if decodeErr != nil {
		slog.ErrorContext(ctx, "invalid sweep message", "error", decodeErr)
		return nil
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = c.defaultLimit
	}

	stats, err := c.sweeper.Sweep(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "sweep failed", "attempts", m.Attempts, "error", err)
		return err
	}

	slog.InfoContext(ctx, "sweep message handled", "processed", stats.Processed, "published", stats.Published, "failed", stats.Failed)
	return nil
}
