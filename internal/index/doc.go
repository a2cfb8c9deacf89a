// Package index builds the in-memory search index.
//
// A Snapshot is the concatenation of the cache stores of every enabled pack
// for the active model. Snapshots are immutable; enabling or disabling a
// pack, switching model or finishing a build produces a fresh Snapshot that
// is published through a Holder.
package index
