package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dshills/packsearch/pkg/types"
)

// Keys of the store_meta table
const (
	metaPackID   = "pack_id"
	metaModelKey = "model_key"
)

// SQLiteStore implements CacheStore on a single SQLite file
type SQLiteStore struct {
	db       *sql.DB
	path     string
	packID   string
	modelKey string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Open opens or creates the cache store at path for one pack and model.
//
// A file that cannot be opened as a cache store, or that belongs to another
// pack or model, is moved aside and replaced by an empty store.
func Open(ctx context.Context, path, packID, modelKey string) (*SQLiteStore, error) {
	store, err := open(ctx, path, packID, modelKey)
	if err == nil {
		return store, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("cache store unreadable, starting from empty",
		slog.String("path", path),
		slog.Any("error", err))
	if qerr := quarantine(path); qerr != nil {
		return nil, fmt.Errorf("failed to move corrupt cache store aside: %w", qerr)
	}
	return open(ctx, path, packID, modelKey)
}

func open(ctx context.Context, path, packID, modelKey string) (*SQLiteStore, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCacheCorrupt, err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply migrations: %v", types.ErrCacheCorrupt, err)
	}

	s := &SQLiteStore{db: db, path: path, packID: packID, modelKey: modelKey}
	if err := s.checkMeta(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// checkMeta records the owner of a fresh store and rejects a foreign one
func (s *SQLiteStore) checkMeta(ctx context.Context) error {
	want := map[string]string{metaPackID: s.packID, metaModelKey: s.modelKey}
	for key, value := range want {
		var stored string
		err := s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = ?", key).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := s.db.ExecContext(ctx, "INSERT INTO store_meta (key, value) VALUES (?, ?)", key, value); err != nil {
				return fmt.Errorf("failed to write store metadata: %w", err)
			}
		case err != nil:
			return fmt.Errorf("%w: failed to read store metadata: %v", types.ErrCacheCorrupt, err)
		case stored != value:
			return fmt.Errorf("%w: store belongs to %s %q, not %q", types.ErrCacheCorrupt, key, stored, value)
		}
	}
	return nil
}

// quarantine renames a bad store and its WAL side files out of the way
func quarantine(path string) error {
	if err := os.Rename(path, path+".corrupt"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load returns all entries ordered by insertion sequence
func (s *SQLiteStore) Load(ctx context.Context) ([]types.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_filename, filepath, label, content_type, pack_id, dimension, vector
		FROM entries
		ORDER BY seq, id
	`)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", types.ErrCacheCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.CacheEntry
	skipped := 0
	for rows.Next() {
		var (
			e    types.CacheEntry
			dim  int
			blob []byte
		)
		if err := rows.Scan(&e.SourceFilename, &e.FilePath, &e.Label, &e.ContentType, &e.PackID, &dim, &blob); err != nil {
			skipped++
			continue
		}
		vector, err := deserializeVector(blob, dim)
		if err != nil || e.FilePath == "" || e.Label == "" {
			skipped++
			continue
		}
		e.Vector = vector
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", types.ErrCacheCorrupt, err)
	}

	if skipped > 0 {
		slog.Warn("skipped malformed cache rows",
			slog.String("path", s.path),
			slog.Int("skipped", skipped))
	}
	return entries, nil
}

// Replace rewrites the entries table inside one transaction
func (s *SQLiteStore) Replace(ctx context.Context, entries []types.CacheEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (seq, source_filename, filepath, label, content_type, pack_id, dimension, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath, label) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entries {
		e := &entries[i]
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %s/%s has no vector", e.FilePath, e.Label)
		}
		contentType := e.ContentType
		if contentType == "" {
			contentType = types.DefaultContentType
		}
		if _, err = stmt.ExecContext(ctx, i, e.SourceFilename, e.FilePath, e.Label, contentType,
			e.PackID, len(e.Vector), serializeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert entry %s/%s: %w", e.FilePath, e.Label, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of stored entries
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}
