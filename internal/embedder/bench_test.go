package embedder

import (
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	for _, text := range []string{"cat", "a much longer label that still fits a filename"} {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = ComputeHash("text-embedding-3-small", text)
			}
		})
	}
}

func BenchmarkNormalizeVector(b *testing.B) {
	for _, dim := range []int{256, 1536} {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(i%7) - 3
		}
		b.Run(fmt.Sprintf("dim=%d", dim), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = NormalizeVector(v)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(10000)
	v := make([]float32, 1536)
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), v)
	}

	b.Run("get-hit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("hash-%d", i%1000))
		}
	})

	b.Run("get-miss", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("nonexistent-%d", i))
		}
	})
}
