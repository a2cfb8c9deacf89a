// Package embeddertest provides a local model runtime for tests that need
// meaningful text similarity without a llama.cpp model on disk.
package embeddertest

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/internal/embedder"
)

// ConfigFile is the only file of a hashing model directory
const ConfigFile = "config.json"

// Files is the LocalConfig.Files value for hashing models
var Files = []string{ConfigFile}

// HashingConfig is the content of a hashing model's config.json
type HashingConfig struct {
	Dimension int  `json:"dimension"`
	NgramMin  int  `json:"ngram_min"`
	NgramMax  int  `json:"ngram_max"`
	Words     bool `json:"words"` // also hash whole words
}

func (c HashingConfig) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.NgramMin <= 0 || c.NgramMax < c.NgramMin {
		return fmt.Errorf("invalid ngram range [%d, %d]", c.NgramMin, c.NgramMax)
	}
	return nil
}

// Hashing maps character n-grams into a fixed number of signed buckets.
// Texts sharing many n-grams get similar vectors.
type Hashing struct {
	cfg HashingConfig
}

// Load is an embedder.Loader reading config.json from dir
func Load(dir string) (embedder.Runtime, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	var cfg HashingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Hashing{cfg: cfg}, nil
}

// WriteModel stores a hashing model of the given dimension under
// modelsDir/name
func WriteModel(t testing.TB, modelsDir, name string, dim int) {
	t.Helper()
	dir := filepath.Join(modelsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(HashingConfig{Dimension: dim, NgramMin: 2, NgramMax: 3, Words: true})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644))
}

func (h *Hashing) Embed(text string) ([]float32, error) {
	vector := make([]float32, h.cfg.Dimension)
	runes := []rune(" " + strings.ToLower(text) + " ")

	for n := h.cfg.NgramMin; n <= h.cfg.NgramMax; n++ {
		for i := 0; i+n <= len(runes); i++ {
			h.add(vector, string(runes[i:i+n]))
		}
	}
	if h.cfg.Words {
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}) {
			h.add(vector, "w:"+w)
		}
	}
	return vector, nil
}

func (h *Hashing) add(vector []float32, feature string) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := sum % uint64(len(vector))
	if sum>>63 == 1 {
		vector[idx]--
	} else {
		vector[idx]++
	}
}

func (h *Hashing) Dimension() int {
	return h.cfg.Dimension
}

func (h *Hashing) Close() error {
	return nil
}
