package embedder

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ComputeHash("m", "cat"), ComputeHash("m", "cat"))
	})

	t.Run("model is part of the key", func(t *testing.T) {
		assert.NotEqual(t, ComputeHash("model-a", "cat"), ComputeHash("model-b", "cat"))
	})

	t.Run("no ambiguity between model and text", func(t *testing.T) {
		assert.NotEqual(t, ComputeHash("ab", "c"), ComputeHash("a", "bc"))
	})
}

func TestNormalizeText(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	assert.Equal(t, composed, NormalizeText(decomposed))
	assert.Equal(t, "dog", NormalizeText("  dog \n"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name    string
		in      []float32
		want    []float32
		wantErr bool
	}{
		{"3-4-5", []float32{3, 4}, []float32{0.6, 0.8}, false},
		{"already unit", []float32{0, 1, 0}, []float32{0, 1, 0}, false},
		{"negative", []float32{-2, 0}, []float32{-1, 0}, false},
		{"zero", []float32{0, 0}, nil, true},
		{"empty", nil, nil, true},
		{"nan", []float32{float32(math.NaN()), 1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeVector(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}

	t.Run("input is not modified", func(t *testing.T) {
		in := []float32{3, 4}
		_, err := NormalizeVector(in)
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 4}, in)
	})
}

func TestCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := NewCache(3)

		_, ok := cache.Get("nonexistent")
		assert.False(t, ok)

		cache.Set("hash1", []float32{1, 2, 3})
		got, ok := cache.Get("hash1")
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, got)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("returns copies", func(t *testing.T) {
		cache := NewCache(3)
		v := []float32{1, 2}
		cache.Set("h", v)
		v[0] = 99

		got, _ := cache.Get("h")
		got[1] = 99

		again, _ := cache.Get("h")
		assert.Equal(t, []float32{1, 2}, again)
	})

	t.Run("eviction on capacity", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("hash1", []float32{1})
		cache.Set("hash2", []float32{2})
		cache.Set("hash3", []float32{3})

		assert.Equal(t, 2, cache.Size())
		_, ok := cache.Get("hash1")
		assert.False(t, ok, "least recently used entry should be evicted")
		_, ok = cache.Get("hash3")
		assert.True(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("hash1", []float32{1})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					hash := ComputeHash("m", fmt.Sprintf("text-%d-%d", id, j))
					cache.Set(hash, []float32{float32(id), float32(j)})
					cache.Get(hash)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 100, cache.Size())
	})
}
