package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(context.Background(), path, "pack_test", "remote:test-model")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(path, label string, vector ...float32) types.CacheEntry {
	return types.CacheEntry{
		SourceFilename: filepath.Base(path),
		FilePath:       path,
		Vector:         vector,
		Label:          label,
		ContentType:    types.DefaultContentType,
		PackID:         "pack_test",
	}
}

func TestOpen_FreshStoreIsEmpty(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReplace_RoundTripPreservesOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := []types.CacheEntry{
		testEntry("/p/b.png", "bee", 0, 1),
		testEntry("/p/a.png", "ant", 1, 0),
		testEntry("/p/a.png", "small", 0.6, 0.8),
	}
	require.NoError(t, store.Replace(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplace_RewritesWholeTable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, []types.CacheEntry{
		testEntry("/p/a.png", "a", 1, 0),
		testEntry("/p/b.png", "b", 0, 1),
	}))
	require.NoError(t, store.Replace(ctx, []types.CacheEntry{
		testEntry("/p/c.png", "c", 1, 0),
	}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/p/c.png", got[0].FilePath)
}

func TestReplace_DuplicateKeyKeepsFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, []types.CacheEntry{
		testEntry("/p/a.png", "cat", 1, 0),
		testEntry("/p/a.png", "cat", 0, 1),
	}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{1, 0}, got[0].Vector)
}

func TestReplace_RejectsEmptyVector(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, []types.CacheEntry{testEntry("/p/a.png", "a", 1)}))
	err := store.Replace(ctx, []types.CacheEntry{testEntry("/p/b.png", "b")})
	require.Error(t, err)

	// Failed flush leaves the previous checkpoint intact
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplace_DefaultsContentType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := testEntry("/p/a.png", "a", 1)
	e.ContentType = ""
	require.NoError(t, store.Replace(ctx, []types.CacheEntry{e}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.DefaultContentType, got[0].ContentType)
}

func TestLoad_SkipsMalformedRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, []types.CacheEntry{testEntry("/p/a.png", "a", 1, 0)}))
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO entries (seq, source_filename, filepath, label, content_type, pack_id, dimension, vector)
		VALUES (1, 'b', '/p/b.png', 'b', 'Normal', 'pack_test', 3, X'0000')
	`)
	require.NoError(t, err)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/p/a.png", got[0].FilePath)
}

func TestOpen_ReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(ctx, path, "pack_test", "m")
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, []types.CacheEntry{testEntry("/p/a.png", "a", 1)}))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, "pack_test", "m")
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_GarbageFileIsQuarantined(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database ", 512)), 0o644))

	store, err := Open(ctx, path, "pack_test", "m")
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, path+".corrupt")
}

func TestOpen_ForeignModelIsQuarantined(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(ctx, path, "pack_test", "model-a")
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, []types.CacheEntry{testEntry("/p/a.png", "a", 1)}))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, "pack_test", "model-b")
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "vectors of another model must not leak into this store")
}

func TestMigrations_RollbackAndReapply(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, store.db))
	v, err := currentVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, store.db))
	v, err = currentVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, store.db))
	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 1, n)
}
