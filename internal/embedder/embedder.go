package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/dshills/packsearch/pkg/types"
)

// Common errors
var (
	ErrEmptyText   = errors.New("text cannot be empty")
	ErrZeroVector  = errors.New("embedding has zero norm")
	ErrUnknownMode = errors.New("unknown embedding mode")
	ErrClosed      = errors.New("embedding service closed")
)

// Embedder produces an embedding vector for a text
type Embedder interface {
	// Embed returns the raw provider vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelID identifies the model, e.g. "remote:text-embedding-3-small"
	ModelID() string

	// Dimension returns the vector size, 0 while unknown
	Dimension() int

	// Close releases any resources held by the embedder
	Close() error
}

// Flusher is implemented by embedders that buffer state worth persisting
type Flusher interface {
	Flush() error
}

// Recorder receives one call per outbound provider request
type Recorder interface {
	Record()
}

// Cache provides in-memory LRU caching of vectors by request hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of a cached vector
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Set stores a vector with automatic LRU eviction
func (c *Cache) Set(hash string, v []float32) {
	c.cache.Add(hash, append([]float32(nil), v...))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash keys a request by model identity and text
func ComputeHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText trims text and converts it to Unicode NFC so that visually
// identical labels share cache entries.
func NormalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// NormalizeVector scales v to unit length. Zero or non-finite vectors are
// rejected since they have no direction to compare.
func NormalizeVector(v []float32) ([]float32, error) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: embedding is not finite", types.ErrProvider)
	}

	length := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / length)
	}
	return result, nil
}
