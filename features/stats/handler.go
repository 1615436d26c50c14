package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"socialpublish/features/integration"
	"socialpublish/features/publish"
	"socialpublish/internal/apperr"
	"socialpublish/internal/middleware"
)

type JobCounter interface {
	CountByStatus(ctx context.Context, userID string) (map[publish.Status]int, error)
}

type Connections interface {
	GetByUser(ctx context.Context, userID string) (*integration.Credential, error)
}

type Handler struct {
	jobs        JobCounter
	connections Connections
}

func NewHandler(j JobCounter, c Connections) *Handler {
	return &Handler{jobs: j, connections: c}
}

type StatsResponse struct {
	Connected  bool `json:"connected"`
	Queued     int  `json:"queued"`
	Processing int  `json:"processing"`
	Retrying   int  `json:"retrying"`
	Published  int  `json:"published"`
	Failed     int  `json:"failed"`
	Total      int  `json:"total"`
}

// GetStats summarizes the caller's publish queue.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	slog.InfoContext(ctx, "getting publish stats")

	counts, err := h.jobs.CountByStatus(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "QUEUE_UNAVAILABLE", "failed to count jobs", http.StatusServiceUnavailable)
		return
	}

	connected := true
	if _, err := h.connections.GetByUser(ctx, userID); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.ErrorContext(ctx, "failed to load connection", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to load connection", http.StatusInternalServerError)
			return
		}
		connected = false
	}

	resp := StatsResponse{
		Connected:  connected,
		Queued:     counts[publish.StatusQueued],
		Processing: counts[publish.StatusProcessing],
		Retrying:   counts[publish.StatusRetrying],
		Published:  counts[publish.StatusPublished],
		Failed:     counts[publish.StatusFailed],
	}
	for _, n := range counts {
		resp.Total += n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
