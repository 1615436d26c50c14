package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type resolverFunc func(r *http.Request) (string, error)

func (f resolverFunc) ResolveUserID(r *http.Request) (string, error) { return f(r) }

func TestRequireUser(t *testing.T) {
	t.Run("Resolved", func(t *testing.T) {
		var seen string
		h := RequireUser(resolverFunc(func(r *http.Request) (string, error) { return "u1", nil }), func(w http.ResponseWriter, r *http.Request) {
			seen = UserID(r.Context())
		})
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", seen)
	})

	t.Run("Rejected", func(t *testing.T) {
		called := false
		h := RequireUser(resolverFunc(func(r *http.Request) (string, error) { return "", errors.New("bad token") }), func(w http.ResponseWriter, r *http.Request) {
			called = true
		})
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})
}

func TestRequireSecret(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }

	tests := []struct {
		name   string
		secret string
		setup  func(r *http.Request)
		want   int
	}{
		{"Disabled", "", func(r *http.Request) {}, http.StatusNoContent},
		{"Bearer", "s3", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3") }, http.StatusNoContent},
		{"Header", "s3", func(r *http.Request) { r.Header.Set("X-Worker-Secret", "s3") }, http.StatusNoContent},
		{"Query", "s3", func(r *http.Request) { r.URL.RawQuery = "secret=s3" }, http.StatusNoContent},
		{"Wrong", "s3", func(r *http.Request) { r.Header.Set("X-Worker-Secret", "nope") }, http.StatusUnauthorized},
		{"Missing", "s3", func(r *http.Request) {}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/workers/publish", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			RequireSecret(tt.secret, ok)(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "http://api.local/publish", nil)
	assert.Equal(t, "http://api.local", RequestOrigin(req))

	req.Header.Set("X-Forwarded-Proto", "https, http")
	req.Header.Set("X-Forwarded-Host", "app.example.com")
	assert.Equal(t, "https://app.example.com", RequestOrigin(req))
}
