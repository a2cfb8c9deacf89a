package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/packsearch/internal/packs"
	"github.com/dshills/packsearch/internal/storage"
	"github.com/dshills/packsearch/pkg/types"
)

// loadConcurrency bounds the number of stores read at once
const loadConcurrency = 4

// Snapshot is an immutable union of the cache stores of the enabled packs
// for one model. It is never modified after Build returns.
type Snapshot struct {
	Entries  []types.CacheEntry
	Packs    map[string]*types.ResourcePack
	ModelKey string
	LoadedAt time.Time
}

// Len returns the number of entries, zero for a nil snapshot
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Empty reports whether the snapshot has no entries
func (s *Snapshot) Empty() bool {
	return s.Len() == 0
}

// Pack returns the pack that owns an entry
func (s *Snapshot) Pack(packID string) (*types.ResourcePack, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.Packs[packID]
	return p, ok
}

// Build loads the cache stores of enabled for modelKey and concatenates them
// in pack id order. Packs without a cache file contribute nothing. Corrupt
// stores are logged and skipped.
func Build(ctx context.Context, enabled map[string]*types.ResourcePack, opener storage.Opener, modelKey string) (*Snapshot, error) {
	ids := packs.SortedIDs(enabled)
	loaded := make([][]types.CacheEntry, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		pack := enabled[id]
		g.Go(func() error {
			entries, err := loadPack(gctx, opener, pack, modelKey)
			if err != nil {
				return err
			}
			loaded[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Packs:    make(map[string]*types.ResourcePack, len(enabled)),
		ModelKey: modelKey,
		LoadedAt: time.Now(),
	}
	for i, id := range ids {
		snap.Packs[id] = enabled[id].Clone()
		snap.Entries = append(snap.Entries, loaded[i]...)
	}
	return snap, nil
}

func loadPack(ctx context.Context, opener storage.Opener, pack *types.ResourcePack, modelKey string) ([]types.CacheEntry, error) {
	if _, err := os.Stat(opener.Path(pack.ID, modelKey)); err != nil {
		return nil, nil
	}

	store, err := opener.OpenStore(ctx, pack.ID, modelKey)
	if err != nil {
		return nil, fmt.Errorf("open cache for %s: %w", pack.ID, err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, types.ErrCacheCorrupt) {
			slog.Warn("skipping unreadable cache store",
				slog.String("pack", pack.ID),
				slog.String("path", store.Path()),
				slog.Any("error", err))
			return nil, nil
		}
		return nil, err
	}

	if !pack.HasRemote() {
		entries = storage.DropMissing(entries)
	}
	for i := range entries {
		if entries[i].PackID == "" {
			entries[i].PackID = pack.ID
		}
	}
	return entries, nil
}

// Holder publishes the current snapshot. Readers never observe a partially
// built index: Store replaces the whole snapshot at once.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, nil before the first Store
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Store publishes snap
func (h *Holder) Store(snap *Snapshot) {
	h.current.Store(snap)
}

// Clear drops the current snapshot
func (h *Holder) Clear() {
	h.current.Store(nil)
}
