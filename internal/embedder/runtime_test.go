package embedder

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// testModelFile is the only file of a test model directory
const testModelFile = "config.json"

// bucketRuntime spreads the bytes of a text over a fixed number of buckets.
// Equal texts get equal vectors.
type bucketRuntime struct {
	dim int
}

func loadBucketRuntime(dir string) (Runtime, error) {
	data, err := os.ReadFile(filepath.Join(dir, testModelFile))
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Dimension int `json:"dimension"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	return &bucketRuntime{dim: cfg.Dimension}, nil
}

func (b *bucketRuntime) Embed(text string) ([]float32, error) {
	v := make([]float32, b.dim)
	for i := range len(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(text[i:]))
		v[h.Sum32()%uint32(b.dim)]++
	}
	return v, nil
}

func (b *bucketRuntime) Dimension() int {
	return b.dim
}

func (b *bucketRuntime) Close() error {
	return nil
}
