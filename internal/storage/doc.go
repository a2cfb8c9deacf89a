// Package storage persists embedding caches in SQLite.
//
// Every (pack, model) pair owns one database file. A file holds the ordered
// list of cache entries for that pair and nothing else, so vectors from
// different models are never mixed:
//
//	<cache_root>/<pack id>/<model key>.db
//
// # Database Schema
//
// Tables:
//   - entries: one row per (filepath, label), ordered by seq
//   - store_meta: the pack id and model key the file was created for
//   - schema_version: applied migrations (semver)
//
// # Basic Usage
//
//	opener := storage.DirOpener{Root: "~/.packsearch/cache"}
//	store, err := opener.OpenStore(ctx, "pack_cats", "remote:text-embedding-3-small")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	entries, err := store.Load(ctx)
//	if errors.Is(err, types.ErrCacheCorrupt) {
//	    // treat as empty
//	}
//
//	// Checkpoint flush: the whole table is rewritten in one transaction
//	err = store.Replace(ctx, entries)
//
// # Load Tolerance
//
// The loader never fails hard on bad data. Rows with undecodable vectors are
// skipped with a warning. A file that is not a database, or that was created
// for another pack or model, is moved aside to "<path>.corrupt" and a fresh
// store is created in its place.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
package storage
