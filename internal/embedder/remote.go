package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/packsearch/pkg/types"
)

// Remote provider defaults
const (
	DefaultRemoteBaseURL = "https://api.openai.com/v1"
	DefaultRemoteModel   = "text-embedding-3-small"

	remotePrefix = "remote:"
)

// RemoteConfig configures a RemoteProvider
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Retry      *RetryConfig

	// Limiter receives one Record call per HTTP attempt
	Limiter Recorder

	// Cache is the in-memory request cache. A fresh one of CacheSize
	// entries is created when nil.
	Cache     *Cache
	CacheSize int

	// Persist is the optional on-disk request cache. It is shared and
	// never closed by the provider.
	Persist *PersistentCache
}

// RemoteProvider embeds text with an OpenAI-compatible /embeddings endpoint
type RemoteProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	retry      RetryConfig
	limiter    Recorder
	cache      *Cache
	persist    *PersistentCache
	dimension  atomic.Int64

	mu      sync.Mutex
	pending map[string][]float32 // vectors not yet written to persist
}

// NewRemoteProvider creates a remote embedder. A missing API key is reported
// by Embed, after the request caches were consulted.
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultRemoteBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultRemoteModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(cfg.CacheSize)
	}

	return &RemoteProvider{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: client,
		retry:      retry,
		limiter:    cfg.Limiter,
		cache:      cache,
		persist:    cfg.Persist,
		pending:    make(map[string][]float32),
	}, nil
}

// Embed returns the vector for text, consulting the request caches first
func (r *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(r.model, text)
	if v, ok := r.cache.Get(hash); ok {
		return v, nil
	}
	if r.persist != nil {
		if v, ok := r.persist.Get(hash); ok {
			r.cache.Set(hash, v)
			return v, nil
		}
	}

	if strings.TrimSpace(r.apiKey) == "" {
		return nil, fmt.Errorf("%w: api key not set", types.ErrProvider)
	}

	vector, err := retryWithBackoff(ctx, r.retry, func() ([]float32, error) {
		return r.callAPI(ctx, text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrProvider, err)
	}

	r.dimension.Store(int64(len(vector)))
	r.cache.Set(hash, vector)
	if r.persist != nil {
		r.mu.Lock()
		r.pending[hash] = vector
		r.mu.Unlock()
	}
	return vector, nil
}

func (r *RemoteProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"input":           text,
		"model":           r.model,
		"encoding_format": "float",
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	if r.limiter != nil {
		r.limiter.Record()
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		// Auth and request errors will not change on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return apiResp.Data[0].Embedding, nil
}

// Flush writes vectors fetched since the last flush to the persistent cache
func (r *RemoteProvider) Flush() error {
	if r.persist == nil {
		return nil
	}
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string][]float32)
	r.mu.Unlock()

	if err := r.persist.PutAll(pending); err != nil {
		r.mu.Lock()
		for k, v := range pending {
			r.pending[k] = v
		}
		r.mu.Unlock()
		return fmt.Errorf("flush embedding cache: %w", err)
	}
	return nil
}

// ClearCache drops the in-memory request cache
func (r *RemoteProvider) ClearCache() {
	r.cache.Clear()
}

func (r *RemoteProvider) ModelID() string {
	return remotePrefix + r.model
}

func (r *RemoteProvider) Model() string {
	return r.model
}

func (r *RemoteProvider) Dimension() int {
	return int(r.dimension.Load())
}

// Close flushes pending vectors and releases idle connections
func (r *RemoteProvider) Close() error {
	err := r.Flush()
	r.httpClient.CloseIdleConnections()
	return err
}
