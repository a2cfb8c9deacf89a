package embedder

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketVectors = []byte("vectors")

// PersistentCache stores request vectors across runs in a bbolt file.
// Keys are ComputeHash values, so one file can serve several models.
type PersistentCache struct {
	db *bbolt.DB
}

// OpenPersistentCache opens or creates the cache file at path
func OpenPersistentCache(path string) (*PersistentCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PersistentCache{db: db}, nil
}

// Get returns the stored vector for hash. Undecodable values count as misses.
func (p *PersistentCache) Get(hash string) ([]float32, bool) {
	var v []float32
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketVectors).Get([]byte(hash))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil || len(v) == 0 {
		return nil, false
	}
	return v, true
}

// PutAll writes all vectors in one transaction
func (p *PersistentCache) PutAll(vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for hash, v := range vectors {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(hash), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of stored vectors
func (p *PersistentCache) Len() int {
	n := 0
	_ = p.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return n
}

func (p *PersistentCache) Close() error {
	return p.db.Close()
}
