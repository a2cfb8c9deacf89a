package types

import (
	"errors"
	"fmt"
)

// Domain errors shared by the build and search pipelines
var (
	// Embedding errors
	ErrProvider         = errors.New("embedding provider failed")
	ErrModelUnavailable = errors.New("local embedding model not available")
	ErrQueryEmbedding   = errors.New("query embedding failed")

	// Pack and cache errors
	ErrPackPathMissing = errors.New("resource pack path does not exist")
	ErrPackNotFound    = errors.New("resource pack not found")
	ErrNoEnabledPacks  = errors.New("no enabled resource packs")
	ErrCacheCorrupt    = errors.New("cache store corrupt")
	ErrInvalidManifest = errors.New("invalid resource pack manifest")

	// Search errors
	ErrRemoteFetch = errors.New("remote fetch failed")
)

// FileError records an embedding failure for one file and label.
// It is collected by the cache builder and never aborts sibling work.
type FileError struct {
	Path  string
	Label string
	Err   error
}

func (e *FileError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("[%s] %v", e.Path, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Path, e.Label, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
