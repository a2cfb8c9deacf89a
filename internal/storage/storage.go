package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/packsearch/pkg/types"
)

// CacheStore persists the ordered cache entries of one (pack, model) pair
type CacheStore interface {
	// Load returns the persisted entries in insertion order. A corrupt store
	// yields an error wrapping types.ErrCacheCorrupt; callers treat it as empty.
	Load(ctx context.Context) ([]types.CacheEntry, error)

	// Replace rewrites the whole store with entries in one transaction.
	// Duplicate (filepath, label) pairs keep their first occurrence.
	Replace(ctx context.Context, entries []types.CacheEntry) error

	Count(ctx context.Context) (int, error)
	Path() string
	Close() error
}

// Opener resolves and opens cache stores
type Opener interface {
	// Path returns the cache file for a pack and model without opening it
	Path(packID, modelKey string) string
	OpenStore(ctx context.Context, packID, modelKey string) (CacheStore, error)
}

// DirOpener lays cache files out under a fixed root directory
type DirOpener struct {
	Root string
}

// Path implements Opener
func (o DirOpener) Path(packID, modelKey string) string {
	return CachePath(o.Root, packID, modelKey)
}

// OpenStore implements Opener. Missing directories are created.
func (o DirOpener) OpenStore(ctx context.Context, packID, modelKey string) (CacheStore, error) {
	path := o.Path(packID, modelKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return Open(ctx, path, packID, modelKey)
}

// CachePath derives the cache file of a (pack, model) pair under root.
// Both components are sanitised, so the result never escapes root.
func CachePath(root, packID, modelKey string) string {
	return filepath.Join(root, sanitize(packID), sanitize(modelKey)+".db")
}

// sanitize maps a name onto [A-Za-z0-9._-]. A hash suffix is appended when
// characters were replaced so distinct names cannot collide.
func sanitize(name string) string {
	var b strings.Builder
	changed := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	if b.Len() == 0 {
		changed = true
	}
	if !changed {
		return b.String()
	}
	sum := sha256.Sum256([]byte(name))
	return b.String() + "-" + hex.EncodeToString(sum[:4])
}

// DropMissing removes entries whose image no longer exists on disk
func DropMissing(entries []types.CacheEntry) []types.CacheEntry {
	kept := entries[:0:0]
	exists := make(map[string]bool)
	for _, e := range entries {
		ok, seen := exists[e.FilePath]
		if !seen {
			_, err := os.Stat(e.FilePath)
			ok = err == nil
			exists[e.FilePath] = ok
		}
		if ok {
			kept = append(kept, e)
		}
	}
	return kept
}
