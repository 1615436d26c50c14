package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"socialpublish/internal/apperr"
	"socialpublish/internal/middleware"
)

const maxWorkerLimit = 100

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type publishRequest struct {
	ImageURL  string `json:"image_url"`
	Caption   string `json:"caption"`
	ListingID string `json:"listing_id,omitempty"`
	Vertical  string `json:"vertical,omitempty"`
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_INPUT", "Invalid JSON", http.StatusBadRequest)
		return
	}

	res, err := h.service.Publish(ctx, Request{
		UserID:    middleware.UserID(ctx),
		ImageURL:  req.ImageURL,
		Caption:   req.Caption,
		ListingID: req.ListingID,
		Vertical:  req.Vertical,
		Origin:    middleware.RequestOrigin(r),
	})
	if err != nil {
		slog.ErrorContext(ctx, "publish request failed", "error", err)
		h.writeReasonError(ctx, w, err)
		return
	}

	status := http.StatusAccepted
	switch res.Status {
	case StatusPublished:
		status = http.StatusOK
	case StatusFailed:
		status = http.StatusBadGateway
	}
	h.writeJSON(ctx, w, status, map[string]interface{}{"data": res})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	jobs, err := h.service.History(ctx, HistoryQuery{
		UserID:       middleware.UserID(ctx),
		Vertical:     strings.TrimSpace(q.Get("vertical")),
		Limit:        limit,
		ProcessQueue: parseFlag(q.Get("process"), true),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to list publish history", "error", err)
		h.writeReasonError(ctx, w, err)
		return
	}

	if jobs == nil {
		jobs = []Job{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	})
}

// Worker runs one sweep. Authentication is applied by the router.
func (h *Handler) Worker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := ClampLimit(r.URL.Query().Get("limit"), DefaultSweepLimit, maxWorkerLimit)

	stats, err := h.service.Sweep(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "worker sweep failed", "error", err)
		h.writeReasonError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": stats})
}

// ClampLimit parses raw and bounds it to 1..upper, falling back to def.
func ClampLimit(raw string, def, upper int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = def
	}
	if n < 1 {
		return 1
	}
	if n > upper {
		return upper
	}
	return n
}

func parseFlag(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (h *Handler) writeReasonError(ctx context.Context, w http.ResponseWriter, err error) {
	reason := apperr.Reason(err)
	status := http.StatusInternalServerError
	switch reason {
	case apperr.ReasonNotConnected, apperr.ReasonInvalidInput:
		status = http.StatusBadRequest
	case apperr.ReasonJobNotFound:
		status = http.StatusNotFound
	case apperr.ReasonQueueUnavailable:
		status = http.StatusServiceUnavailable
	}
	h.writeError(ctx, w, strings.ToUpper(reason), err.Error(), status)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
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
