package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"socialpublish/internal/middleware"
	"testing"
)

func TestContextHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, nil)
	h := NewContextHandler(jsonHandler)
	logger := slog.New(h)

	ctx := context.Background()
	ctx = middleware.WithCorrelationID(ctx, "test-correlation-id")
	ctx = middleware.WithJobID(ctx, "job-42")

	logger.InfoContext(ctx, "test message")

	var logMap map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logMap); err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}

	if logMap["correlation_id"] != "test-correlation-id" {
		t.Errorf("expected correlation_id 'test-correlation-id', got %v", logMap["correlation_id"])
	}
	if logMap["job_id"] != "job-42" {
		t.Errorf("expected job_id 'job-42', got %v", logMap["job_id"])
	}
	if _, ok := logMap["user_id"]; ok {
		t.Errorf("unexpected user_id in %v", logMap)
	}
}

func TestContextHandler_WithAttrsKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "sweep")

	ctx := middleware.WithUserID(context.Background(), "user-7")
	logger.InfoContext(ctx, "derived")

	var logMap map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logMap); err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}
	if logMap["user_id"] != "user-7" || logMap["component"] != "sweep" {
		t.Errorf("unexpected log %v", logMap)
	}
}
