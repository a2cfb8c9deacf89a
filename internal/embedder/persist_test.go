package embedder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestPersistentCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bolt")

	p, err := OpenPersistentCache(path)
	require.NoError(t, err)

	_, ok := p.Get("missing")
	assert.False(t, ok)

	require.NoError(t, p.PutAll(map[string][]float32{
		"a": {1, 2},
		"b": {3},
	}))
	require.NoError(t, p.PutAll(nil))
	assert.Equal(t, 2, p.Len())
	require.NoError(t, p.Close())

	p, err = OpenPersistentCache(path)
	require.NoError(t, err)
	defer p.Close()

	v, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)
}

func TestPersistentCache_CorruptValueIsMiss(t *testing.T) {
	p, err := OpenPersistentCache(filepath.Join(t.TempDir(), "cache.bolt"))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte("bad"), []byte("{not json"))
	}))

	_, ok := p.Get("bad")
	assert.False(t, ok)
}
