package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/packsearch/internal/builder"
	"github.com/dshills/packsearch/internal/config"
	"github.com/dshills/packsearch/internal/embedder"
	"github.com/dshills/packsearch/internal/imagesim"
	"github.com/dshills/packsearch/internal/index"
	"github.com/dshills/packsearch/internal/packs"
	"github.com/dshills/packsearch/internal/ratelimit"
	"github.com/dshills/packsearch/internal/remote"
	"github.com/dshills/packsearch/internal/searcher"
	"github.com/dshills/packsearch/internal/storage"
	"github.com/dshills/packsearch/pkg/types"
)

// App holds the long-lived components of one packsearch process and the
// operations that coordinate them. Components receive their collaborators
// from here; nothing reads global state.
type App struct {
	file     *config.File
	registry *packs.Registry
	limiter  *ratelimit.Limiter
	embedder *embedder.Service
	opener   storage.DirOpener
	builder  *builder.Builder
	searcher *searcher.Searcher
	index    index.Holder

	closeEmbedder func() error

	// mu orders index reloads and mode switches
	mu        sync.Mutex
	buildLock builder.BuildLock
}

// Options holds collaborators that are not part of the config file
type Options struct {
	// LocalLoader loads downloaded local models. Without one, local mode
	// reports every model as unavailable.
	LocalLoader embedder.Loader
}

// New wires an App from a loaded config file and loads the index of the
// enabled packs for the configured model
func New(ctx context.Context, file *config.File, opts Options) (*App, error) {
	cfg := file.Config()

	mode, err := embedder.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewDefault()
	emb, closeEmb, err := embedder.New(embedder.Config{
		Mode:         mode,
		BaseURL:      cfg.API.Embedding.BaseURL,
		APIKey:       cfg.APIKey(),
		RemoteModel:  cfg.API.Embedding.Model,
		CacheSize:    cfg.API.Embedding.CacheSize,
		CachePath:    cfg.EmbeddingCacheFile(),
		LocalModel:   cfg.Models.DefaultModel,
		ModelsDir:    cfg.ModelsDir(),
		ModelBaseURL: cfg.Models.BaseURL,
		ModelFiles:   cfg.Models.Files,
		ModelLoader:  opts.LocalLoader,
		Limiter:      limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	comparer, err := imagesim.NewComparer(cfg.Search.ImageCacheSize)
	if err != nil {
		_ = closeEmb()
		return nil, err
	}

	opener := storage.DirOpener{Root: cfg.CacheDir()}
	a := &App{
		file:     file,
		registry: packs.NewRegistry(cfg.ResourcePacksDir(), cfg.CacheDir(), file),
		limiter:  limiter,
		embedder: emb,
		opener:   opener,
		builder: builder.New(emb, limiter, opener, builder.Config{
			Workers:         cfg.Build.Workers,
			CheckpointEvery: cfg.Build.CheckpointEvery,
			LabelDelimiter:  cfg.Build.LabelDelimiter,
		}),
		closeEmbedder: closeEmb,
	}
	a.searcher = searcher.New(emb, &a.index, remote.NewFetcher(nil), comparer, searcher.Config{
		DefaultTopK:     cfg.Search.TopK,
		CandidateFactor: cfg.Search.CandidateFactor,
		DedupThreshold:  cfg.Search.DedupThreshold,
	})

	if err := a.ReloadPacks(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Registry returns the pack registry
func (a *App) Registry() *packs.Registry {
	return a.registry
}

// Embedder returns the embedding service
func (a *App) Embedder() *embedder.Service {
	return a.embedder
}

// Snapshot returns the current index
func (a *App) Snapshot() *index.Snapshot {
	return a.index.Load()
}

// ReloadPacks rediscovers packs on disk and rebuilds the index
func (a *App) ReloadPacks(ctx context.Context) error {
	if _, err := a.registry.Load(); err != nil {
		return fmt.Errorf("failed to load resource packs: %w", err)
	}
	return a.Reload(ctx)
}

// Reload rebuilds the index from the enabled packs for the active model
// and publishes it. Searches in flight keep the snapshot they started with.
func (a *App) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadLocked(ctx)
}

func (a *App) reloadLocked(ctx context.Context) error {
	modelKey := a.embedder.ModelID()
	snap, err := index.Build(ctx, a.registry.EnabledPacks(), a.opener, modelKey)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	a.index.Store(snap)
	slog.Info("index loaded",
		slog.String("model", modelKey),
		slog.Int("packs", len(snap.Packs)),
		slog.Int("entries", snap.Len()))
	return nil
}

// Search runs a query against the current index
func (a *App) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	return a.searcher.SearchDetailed(ctx, req)
}

// BuildAll builds the caches of every enabled pack for the active model and
// reloads the index. Only one build runs at a time.
func (a *App) BuildAll(ctx context.Context, progress builder.PackProgress) (*builder.Summary, error) {
	if !a.buildLock.TryAcquire() {
		return nil, builder.ErrBuildInProgress
	}
	defer a.buildLock.Release()

	if err := a.ensureModel(); err != nil {
		return nil, err
	}
	summary, err := a.builder.BuildAll(ctx, a.registry.EnabledPacks(), a.embedder.ModelID(), progress)
	a.afterBuild(ctx)
	return summary, err
}

// BuildPack builds the cache of one pack, enabled or not
func (a *App) BuildPack(ctx context.Context, packID string, progress builder.Progress) (*builder.Result, error) {
	pack, ok := a.registry.Pack(packID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrPackNotFound, packID)
	}
	if !a.buildLock.TryAcquire() {
		return nil, builder.ErrBuildInProgress
	}
	defer a.buildLock.Release()

	if err := a.ensureModel(); err != nil {
		return nil, err
	}
	result, err := a.builder.Build(ctx, pack, builder.Options{
		ModelKey: a.embedder.ModelID(),
		Progress: progress,
	})
	if pack.Enabled {
		a.afterBuild(ctx)
	}
	return result, err
}

// ensureModel loads the local model before a build so a missing model
// fails the build up front instead of every file
func (a *App) ensureModel() error {
	if a.embedder.Mode() != embedder.ModeLocal {
		return nil
	}
	local, err := a.embedder.Local("")
	if err != nil {
		return err
	}
	return local.Load()
}

func (a *App) afterBuild(ctx context.Context) {
	if err := a.embedder.Flush(); err != nil {
		slog.Warn("failed to persist embedding cache", slog.Any("error", err))
	}
	if err := a.Reload(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to reload index after build", slog.Any("error", err))
	}
}

// EnablePack enables a pack and reloads the index when the state changed
func (a *App) EnablePack(ctx context.Context, packID string) (bool, error) {
	changed, err := a.registry.Enable(packID)
	if err != nil || !changed {
		return changed, err
	}
	return true, a.Reload(ctx)
}

// DisablePack disables a pack and reloads the index when the state changed
func (a *App) DisablePack(ctx context.Context, packID string) (bool, error) {
	changed, err := a.registry.Disable(packID)
	if err != nil || !changed {
		return changed, err
	}
	return true, a.Reload(ctx)
}

// SetMode switches the embedding mode or model, persists the choice and
// loads the index for the new model. It is refused while a build runs.
func (a *App) SetMode(ctx context.Context, mode, model string) error {
	m, err := embedder.ParseMode(mode)
	if err != nil {
		return err
	}
	// held for the whole switch so no build can start against the old model
	if !a.buildLock.TryAcquire() {
		return builder.ErrBuildInProgress
	}
	defer a.buildLock.Release()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.embedder.SetMode(m, model); err != nil {
		return fmt.Errorf("failed to switch mode: %w", err)
	}
	if err := a.file.SetMode(string(m), model); err != nil {
		slog.Warn("failed to persist mode", slog.String("mode", string(m)), slog.Any("error", err))
	}
	// drop the old model's snapshot first so no search mixes models
	a.index.Clear()
	return a.reloadLocked(ctx)
}

// DownloadModel fetches the named local model, empty for the configured one
func (a *App) DownloadModel(ctx context.Context, name string) error {
	local, err := a.embedder.Local(name)
	if err != nil {
		return err
	}
	return local.Download(ctx)
}

// LoadModel loads the named local model into memory
func (a *App) LoadModel(name string) error {
	local, err := a.embedder.Local(name)
	if err != nil {
		return err
	}
	return local.Load()
}

// Close flushes and closes the embedder
func (a *App) Close() error {
	if err := a.embedder.Flush(); err != nil {
		slog.Warn("failed to persist embedding cache", slog.Any("error", err))
	}
	return a.closeEmbedder()
}

// PackStatus describes one discovered pack
type PackStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Version        string `json:"version"`
	Author         string `json:"author"`
	Description    string `json:"description,omitempty"`
	Enabled        bool   `json:"enabled"`
	Files          int    `json:"files"`
	CacheGenerated bool   `json:"cache_generated"`
	Remote         bool   `json:"remote"`
	Cover          string `json:"cover,omitempty"`
}

// Status is a point in time report of the App
type Status struct {
	Mode                 string       `json:"mode"`
	ModelKey             string       `json:"model"`
	Entries              int          `json:"entries"`
	EnabledPacks         int          `json:"enabled_packs"`
	Packs                []PackStatus `json:"packs"`
	LocalModel           string       `json:"local_model,omitempty"`
	LocalModelDownloaded bool         `json:"local_model_downloaded"`
	BuildInProgress      bool         `json:"build_in_progress"`
	RecentRequests       int          `json:"recent_requests"`
	IndexLoadedAt        time.Time    `json:"index_loaded_at,omitzero"`
}

// Status reports packs, index size and model state
func (a *App) Status() Status {
	modelKey := a.embedder.ModelID()
	st := Status{
		Mode:            string(a.embedder.Mode()),
		ModelKey:        modelKey,
		BuildInProgress: a.buildLock.Held(),
		RecentRequests:  a.limiter.Recent(),
		Packs:           []PackStatus{},
	}
	if snap := a.index.Load(); snap != nil {
		st.Entries = snap.Len()
		st.IndexLoadedAt = snap.LoadedAt
	}
	if local, err := a.embedder.Local(""); err == nil {
		st.LocalModel = local.Name()
		st.LocalModelDownloaded = local.Downloaded()
	}

	all := a.registry.Packs()
	for _, id := range packs.SortedIDs(all) {
		p := all[id]
		if p.Enabled {
			st.EnabledPacks++
		}
		st.Packs = append(st.Packs, PackStatus{
			ID:             p.ID,
			Name:           p.Name,
			Version:        p.Version,
			Author:         p.Author,
			Description:    p.Description,
			Enabled:        p.Enabled,
			Files:          len(p.Files),
			CacheGenerated: a.registry.CacheGenerated(p.ID, modelKey),
			Remote:         p.HasRemote(),
			Cover:          p.Cover,
		})
	}
	return st
}
