package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Alice", body["user_id"])
		assert.Equal(t, "https://img/alice.jpg", body["image_url"])
		_, _ = w.Write([]byte(`{"user_id":"Alice","verified":true,"similarity":0.81,"threshold":0.45}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL+"/", false).Verify(context.Background(), "Alice", "https://img/alice.jpg")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, 0.81, res.Similarity)
}

func TestVerify_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no face detected", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false).Verify(context.Background(), "Alice", "https://img/x.jpg")
	assert.ErrorContains(t, err, "no face detected")
}

func TestVerify_RequiresImage(t *testing.T) {
	_, err := New("http://unused", false).Verify(context.Background(), "Alice", "")
	assert.Error(t, err)
}

func TestLiveness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/liveness", r.URL.Path)
		_, _ = w.Write([]byte(`{"is_live":false,"confidence":0.3}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, false).Liveness(context.Background(), "https://img/x.jpg")
	require.NoError(t, err)
	assert.False(t, res.IsLive)
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:1", true)
	ctx := context.Background()

	res, err := c.Verify(ctx, "Alice", "")
	require.NoError(t, err)
	assert.True(t, res.Verified)

	live, err := c.Liveness(ctx, "")
	require.NoError(t, err)
	assert.True(t, live.IsLive)
	assert.NoError(t, c.Health(ctx))
}

func TestHealth(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	assert.NoError(t, c.Health(context.Background()))
	down.Store(true)
	assert.ErrorContains(t, c.Health(context.Background()), "unhealthy")
}
