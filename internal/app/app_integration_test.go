package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpublish/features/integration"
	"socialpublish/internal/app"
	"socialpublish/internal/testutils"
)

type allowGuard struct{}

func (allowGuard) Consume(ctx context.Context, state string, ttl time.Duration) (bool, error) {
	return true, nil
}

// fakeGraph serves the container, publish and media lookups of the Graph API.
func fakeGraph(t *testing.T, publishCalls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/ig-e2e/media"):
			w.Write([]byte(`{"id":"creation-1"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/ig-e2e/media_publish"):
			atomic.AddInt32(publishCalls, 1)
			w.Write([]byte(`{"id":"media-1"}`))
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/media-1"):
			w.Write([]byte(`{"id":"media-1","permalink":"https://instagram.test/p/1","timestamp":"2025-01-01T12:00:00+0000"}`))
		default:
			t.Logf("unexpected graph call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"unknown path","code":100}}`))
		}
	}))
}

func bearer(t *testing.T, secret, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestApp_PublishEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	var publishCalls int32
	graph := fakeGraph(t, &publishCalls)
	defer graph.Close()

	cfg := suite.GetAppConfig()
	cfg.AuthJWTSecret = "e2e-secret"
	cfg.WorkerSecret = "e2e-worker"
	cfg.MetaAppID = "app-id"
	cfg.MetaAppSecret = "app-secret"
	cfg.MetaGraphURL = graph.URL

	ctx := context.Background()
	expires := time.Now().Add(60 * 24 * time.Hour)
	_, err := integration.NewPostgresRepo(suite.DB).Upsert(ctx, "user-e2e", integration.Credential{
		AccessToken: "long-lived",
		TokenType:   "bearer",
		ExpiresAt:   &expires,
		PageID:      "page-1",
		AccountID:   "ig-e2e",
		Username:    "listings",
	})
	require.NoError(t, err)

	application, err := app.New(cfg, suite.DB, allowGuard{}, nil)
	require.NoError(t, err)

	auth := bearer(t, cfg.AuthJWTSecret, "user-e2e")

	// 1. Publish runs the job inline
	body, _ := json.Marshal(map[string]string{
		"image_url": "https://cdn.test/listing.jpg",
		"caption":   "Nuevo listado",
		"vertical":  "autos",
	})
	req := httptest.NewRequest("POST", "/publish", bytes.NewReader(body))
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var published struct {
		Data struct {
			OK        bool   `json:"ok"`
			JobID     string `json:"job_id"`
			Status    string `json:"status"`
			MediaID   string `json:"media_id"`
			Permalink string `json:"permalink"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &published))
	assert.True(t, published.Data.OK)
	assert.Equal(t, "published", published.Data.Status)
	assert.Equal(t, "media-1", published.Data.MediaID)
	assert.Equal(t, "https://instagram.test/p/1", published.Data.Permalink)

	// 2. History lists it
	req = httptest.NewRequest("GET", "/publish/history?vertical=autos", nil)
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var history struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Equal(t, 1, history.Meta.Count)
	assert.Equal(t, published.Data.JobID, history.Data[0].ID)

	// 3. Stats reflect the published job
	req = httptest.NewRequest("GET", "/publish/stats", nil)
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats struct {
		Data struct {
			Connected bool `json:"connected"`
			Published int  `json:"published"`
			Total     int  `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.Data.Connected)
	assert.Equal(t, 1, stats.Data.Published)
	assert.Equal(t, 1, stats.Data.Total)

	// 4. A sweep finds nothing left to publish
	req = httptest.NewRequest("POST", "/workers/publish?limit=10", nil)
	req.Header.Set("X-Worker-Secret", cfg.WorkerSecret)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&publishCalls))
}
