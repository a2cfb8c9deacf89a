package packs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/packsearch/internal/storage"
	"github.com/dshills/packsearch/pkg/types"
)

// IDPrefix is prepended to a pack directory name to form its id
const IDPrefix = "pack_"

// StateStore persists the enabled flag of packs
type StateStore interface {
	PackEnabled(packID string) bool
	SetPackEnabled(packID string, enabled bool) error
}

// Registry discovers resource packs and tracks which ones are enabled
type Registry struct {
	root      string
	cacheRoot string
	state     StateStore

	mu    sync.RWMutex
	packs map[string]*types.ResourcePack
}

// NewRegistry creates a registry over the pack directory root. Cache files
// are placed under cacheRoot.
func NewRegistry(root, cacheRoot string, state StateStore) *Registry {
	return &Registry{
		root:      root,
		cacheRoot: cacheRoot,
		state:     state,
		packs:     make(map[string]*types.ResourcePack),
	}
}

// Load rescans the pack directory. Invalid packs are logged and skipped.
func (r *Registry) Load() (map[string]*types.ResourcePack, error) {
	found := make(map[string]*types.ResourcePack)

	entries, err := os.ReadDir(r.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read resource packs dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		pack, err := r.loadPack(dir, entry.Name())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			slog.Warn("skipping resource pack",
				slog.String("dir", dir),
				slog.Any("error", err))
			continue
		}
		found[pack.ID] = pack
	}

	r.mu.Lock()
	r.packs = found
	r.mu.Unlock()

	slog.Debug("resource packs loaded", slog.String("root", r.root), slog.Int("count", len(found)))
	return r.Packs(), nil
}

func (r *Registry) loadPack(dir, name string) (*types.ResourcePack, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	files, skipped := m.Files()
	for _, s := range skipped {
		slog.Warn("manifest entry outside pack ignored", slog.String("dir", dir), slog.String("path", s))
	}

	id := IDPrefix + name
	pack := &types.ResourcePack{
		ID:            id,
		Name:          m.Name,
		Version:       m.Version,
		Author:        m.Author,
		Description:   m.Description,
		Tags:          m.Tags,
		CreatedAt:     m.CreatedAt,
		RootPath:      dir,
		RemoteBaseURL: strings.TrimSpace(m.URL),
		Type:          m.Type,
		Files:         files,
	}
	if m.Regex != nil && m.Regex.Pattern != "" {
		rule := *m.Regex
		pack.LabelRule = &rule
	}
	if m.Cover != nil && m.Cover.Filename != "" {
		if rel, ok := cleanRel(m.Cover.Filename); ok {
			cover := pack.AbsPath(rel)
			if _, err := os.Stat(cover); err == nil {
				pack.Cover = cover
			}
		}
	}
	if r.state != nil {
		pack.Enabled = r.state.PackEnabled(id)
	}
	return pack, nil
}

// Packs returns a copy of all known packs
func (r *Registry) Packs() map[string]*types.ResourcePack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*types.ResourcePack, len(r.packs))
	for id, p := range r.packs {
		out[id] = p.Clone()
	}
	return out
}

// EnabledPacks returns a copy of the enabled packs
func (r *Registry) EnabledPacks() map[string]*types.ResourcePack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*types.ResourcePack)
	for id, p := range r.packs {
		if p.Enabled {
			out[id] = p.Clone()
		}
	}
	return out
}

// Pack returns a copy of one pack
func (r *Registry) Pack(packID string) (*types.ResourcePack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[packID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Enable turns a pack on. It returns false when the pack was already enabled.
func (r *Registry) Enable(packID string) (bool, error) {
	return r.setEnabled(packID, true)
}

// Disable turns a pack off. It returns false when the pack was already disabled.
func (r *Registry) Disable(packID string) (bool, error) {
	return r.setEnabled(packID, false)
}

func (r *Registry) setEnabled(packID string, enabled bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.packs[packID]
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrPackNotFound, packID)
	}
	if p.Enabled == enabled {
		return false, nil
	}

	if r.state != nil {
		if err := r.state.SetPackEnabled(packID, enabled); err != nil {
			return false, fmt.Errorf("persist pack state: %w", err)
		}
	}
	p.Enabled = enabled
	return true, nil
}

// Cover returns the cover image of a pack, or "" when it has none
func (r *Registry) Cover(packID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.packs[packID]; ok {
		return p.Cover
	}
	return ""
}

// CacheFile returns the cache store path for a pack and model. The path is
// derived from the ids only.
func (r *Registry) CacheFile(packID, modelKey string) string {
	return storage.CachePath(r.cacheRoot, packID, modelKey)
}

// CacheGenerated reports whether a cache store exists for a pack and model
func (r *Registry) CacheGenerated(packID, modelKey string) bool {
	_, err := os.Stat(r.CacheFile(packID, modelKey))
	return err == nil
}

// SortedIDs returns the ids of packs in lexical order
func SortedIDs(packs map[string]*types.ResourcePack) []string {
	ids := make([]string, 0, len(packs))
	for id := range packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
