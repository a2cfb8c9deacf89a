package searcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/dshills/packsearch/internal/embedder"
	"github.com/dshills/packsearch/internal/index"
	"github.com/dshills/packsearch/pkg/types"
)

func benchSnapshot(b *testing.B, n, dim int) *index.Snapshot {
	b.Helper()
	r := rand.New(rand.NewPCG(1, 2))
	snap := &index.Snapshot{Entries: make([]types.CacheEntry, n)}
	for i := range snap.Entries {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32() - 0.5
		}
		v, err := embedder.NormalizeVector(v)
		if err != nil {
			b.Fatal(err)
		}
		snap.Entries[i] = types.CacheEntry{
			FilePath: fmt.Sprintf("/packs/p/img%d.png", i),
			Label:    fmt.Sprintf("label%d", i%500),
			Vector:   v,
		}
	}
	return snap
}

func BenchmarkRank(b *testing.B) {
	for _, n := range []int{1000, 10000, 50000} {
		b.Run(fmt.Sprintf("entries=%d", n), func(b *testing.B) {
			snap := benchSnapshot(b, n, 384)
			query := snap.Entries[0].Vector
			s := New(nil, &index.Holder{}, nil, nil, Config{})
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.rank(snap, query)
			}
		})
	}
}

func BenchmarkSearchDetailed(b *testing.B) {
	snap := benchSnapshot(b, 10000, 384)
	var h index.Holder
	h.Store(snap)
	s := New(nil, &h, nil, nil, Config{})
	req := Request{TopK: 5, Embedding: snap.Entries[42].Vector}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.SearchDetailed(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
