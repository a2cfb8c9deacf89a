package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/pkg/types"
)

// countingRecorder counts limiter records
type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (c *countingRecorder) Record() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *countingRecorder) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// embeddingServer answers /embeddings with a vector derived from the input
// length. failFirst requests return 500 first.
func embeddingServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		if n <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req struct {
			Input          string `json:"input"`
			Model          string `json:"model"`
			EncodingFormat string `json:"encoding_format"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "float", req.EncodingFormat)

		resp := map[string]interface{}{
			"model": req.Model,
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{float32(len(req.Input)), 1, 0}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRemoteProvider_Embed(t *testing.T) {
	server, calls := embeddingServer(t, 0)
	limiter := &countingRecorder{}

	p, err := NewRemoteProvider(RemoteConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "test-key",
		Model:   "test-model",
		Retry:   fastRetry(),
		Limiter: limiter,
	})
	require.NoError(t, err)
	defer p.Close()

	v, err := p.Embed(context.Background(), "dog")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1, 0}, v)
	assert.Equal(t, 3, p.Dimension())
	assert.Equal(t, "remote:test-model", p.ModelID())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, limiter.Count())

	t.Run("cache hit skips network", func(t *testing.T) {
		_, err := p.Embed(context.Background(), "dog")
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, limiter.Count())
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := p.Embed(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}

func TestRemoteProvider_RetriesTransientErrors(t *testing.T) {
	server, calls := embeddingServer(t, 2)
	limiter := &countingRecorder{}

	p, err := NewRemoteProvider(RemoteConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
		Retry:   fastRetry(),
		Limiter: limiter,
	})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "cat")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, limiter.Count(), "every attempt counts against the rate limit")
}

func TestRemoteProvider_AuthFailure(t *testing.T) {
	server, calls := embeddingServer(t, 0)

	p, err := NewRemoteProvider(RemoteConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "wrong",
		Retry:   fastRetry(),
	})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "cat")
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load(), "auth errors are not retried")
}

func TestRemoteProvider_MissingKey(t *testing.T) {
	server, calls := embeddingServer(t, 0)

	p, err := NewRemoteProvider(RemoteConfig{BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "cat")
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRemoteProvider_PersistentCache(t *testing.T) {
	server, calls := embeddingServer(t, 0)
	persist, err := OpenPersistentCache(filepath.Join(t.TempDir(), "embeddings.bolt"))
	require.NoError(t, err)
	defer persist.Close()

	cfg := RemoteConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
		Model:   "m1",
		Retry:   fastRetry(),
		Persist: persist,
	}

	first, err := NewRemoteProvider(cfg)
	require.NoError(t, err)
	_, err = first.Embed(context.Background(), "bird")
	require.NoError(t, err)
	assert.Equal(t, 0, persist.Len(), "vectors are buffered until flush")
	require.NoError(t, first.Flush())
	assert.Equal(t, 1, persist.Len())

	// A fresh provider has an empty LRU but finds the vector on disk
	second, err := NewRemoteProvider(cfg)
	require.NoError(t, err)
	v, err := second.Embed(context.Background(), "bird")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, v)
	assert.Equal(t, int32(1), calls.Load())

	// Another model does not share entries
	cfg.Model = "m2"
	third, err := NewRemoteProvider(cfg)
	require.NoError(t, err)
	_, err = third.Embed(context.Background(), "bird")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// Close flushes
	require.NoError(t, third.Close())
	assert.Equal(t, 2, persist.Len())
}

func TestRemoteProvider_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p, err := NewRemoteProvider(RemoteConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Retry:   &RetryConfig{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Embed(ctx, "cat")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
