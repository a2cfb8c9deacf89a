package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/packsearch/internal/storage"
	"github.com/dshills/packsearch/pkg/types"
)

// Defaults for Config
const (
	DefaultCheckpointEvery    = 150
	DefaultCheckpointHeadroom = 30 * time.Second
	DefaultBackoffInterval    = time.Second
	DefaultLockTimeout        = 5 * time.Second
	MaxWorkers                = 64
)

// Embedder produces the vector stored for a label
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Limiter is the view of the rate limiter the builder needs
type Limiter interface {
	Overloaded() bool
	SinceLast() time.Duration
}

// Flusher is implemented by embedders that persist state at checkpoints
type Flusher interface {
	Flush() error
}

// Config contains configuration for the builder
type Config struct {
	Workers            int           // Concurrent embedding requests (default: 4*NumCPU, max 64)
	CheckpointEvery    int           // Files between checkpoints (default: 150)
	CheckpointHeadroom time.Duration // Max time since the last request for a checkpoint
	BackoffInterval    time.Duration // Poll interval while the rate limiter is overloaded
	LabelDelimiter     string
	LockTimeout        time.Duration
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() Config {
	return Config{
		Workers:            defaultWorkers(),
		CheckpointEvery:    DefaultCheckpointEvery,
		CheckpointHeadroom: DefaultCheckpointHeadroom,
		BackoffInterval:    DefaultBackoffInterval,
		LabelDelimiter:     DefaultLabelDelimiter,
		LockTimeout:        DefaultLockTimeout,
	}
}

func defaultWorkers() int {
	n := 4 * runtime.NumCPU()
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = d.CheckpointEvery
	}
	if c.CheckpointHeadroom <= 0 {
		c.CheckpointHeadroom = d.CheckpointHeadroom
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = d.BackoffInterval
	}
	if c.LabelDelimiter == "" {
		c.LabelDelimiter = d.LabelDelimiter
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	return c
}

// Progress is called after each new file has been dispatched
type Progress func(done, total int)

// Options are per-build settings
type Options struct {
	ModelKey string
	Progress Progress
}

// Result summarises one pack build. Per-file failures are reported in
// Errors and do not make Build return an error.
type Result struct {
	PackID      string
	NewFiles    int // files embedded in this run
	Success     int // entries embedded in this run
	Skipped     int // files already present in the store
	Missing     int // files absent locally in a pack without remote URL
	Dropped     int // stored entries removed because their file is gone
	Checkpoints int
	Total       int // entries in the store after the final flush
	Duration    time.Duration
	Errors      []*types.FileError
}

// Partial reports whether some embeddings failed
func (r *Result) Partial() bool {
	return len(r.Errors) > 0
}

// Builder creates and maintains per-(pack, model) cache stores
type Builder struct {
	embedder Embedder
	limiter  Limiter
	opener   storage.Opener
	cfg      Config
}

// New creates a Builder
func New(emb Embedder, limiter Limiter, opener storage.Opener, cfg Config) *Builder {
	return &Builder{
		embedder: emb,
		limiter:  limiter,
		opener:   opener,
		cfg:      cfg.withDefaults(),
	}
}

// Build embeds the files of pack that are not yet in its cache store.
//
// The store is checkpointed every CheckpointEvery files while the rate
// limiter shows recent activity, and flushed once more at the end. On
// cancellation the entries gathered so far are flushed and ctx.Err() is
// returned together with the partial result.
func (b *Builder) Build(ctx context.Context, pack *types.ResourcePack, opts Options) (*Result, error) {
	start := time.Now()
	if info, err := os.Stat(pack.RootPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", types.ErrPackPathMissing, pack.RootPath)
	}
	labeler, err := NewLabeler(pack.LabelRule, b.cfg.LabelDelimiter)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", pack.ID, err)
	}

	unlock, err := acquireFileLock(ctx, b.opener.Path(pack.ID, opts.ModelKey)+".lock", b.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	store, err := b.opener.OpenStore(ctx, pack.ID, opts.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	defer func() { _ = store.Close() }()

	result := &Result{PackID: pack.ID}
	existing, err := b.loadExisting(ctx, store, pack, result)
	if err != nil {
		return nil, err
	}

	embedded := make(map[string]bool, len(existing))
	for _, e := range existing {
		embedded[e.FilePath] = true
	}

	var todo []string
	for _, f := range pack.Files {
		if !IsImage(f.RelPath) {
			continue
		}
		abs := pack.AbsPath(f.RelPath)
		if embedded[abs] {
			result.Skipped++
			continue
		}
		if !pack.HasRemote() {
			if _, err := os.Stat(abs); err != nil {
				result.Missing++
				continue
			}
		}
		todo = append(todo, abs)
	}
	result.NewFiles = len(todo)

	if len(todo) == 0 && result.Dropped == 0 {
		result.Total = len(existing)
		result.Duration = time.Since(start)
		return result, nil
	}

	run := &buildRun{
		builder: b,
		store:   store,
		pack:    pack,
		entries: existing,
		result:  result,
	}
	buildErr := run.dispatch(ctx, todo, labeler, opts.Progress)

	// Final flush regardless of batch alignment, also after cancellation
	if err := run.flush(context.WithoutCancel(ctx)); err != nil {
		return result, fmt.Errorf("final flush: %w", err)
	}
	result.Total = len(run.entries)
	result.Duration = time.Since(start)

	slog.Info("cache build finished",
		slog.String("pack", pack.ID),
		slog.String("model", opts.ModelKey),
		slog.Int("new_files", result.NewFiles),
		slog.Int("embedded", result.Success),
		slog.Int("errors", len(result.Errors)),
		slog.Int("checkpoints", result.Checkpoints),
		slog.Duration("duration", result.Duration))

	return result, buildErr
}

// loadExisting reads the store, treating corruption as an empty store
func (b *Builder) loadExisting(ctx context.Context, store storage.CacheStore, pack *types.ResourcePack, result *Result) ([]types.CacheEntry, error) {
	existing, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrCacheCorrupt) {
			return nil, err
		}
		slog.Warn("cache store unreadable, rebuilding from empty",
			slog.String("pack", pack.ID),
			slog.String("path", store.Path()),
			slog.Any("error", err))
		existing = nil
	}

	if !pack.HasRemote() {
		kept := storage.DropMissing(existing)
		result.Dropped = len(existing) - len(kept)
		existing = kept
	}
	return existing, nil
}

// buildRun holds the state shared by the workers of one build
type buildRun struct {
	builder *Builder
	store   storage.CacheStore
	pack    *types.ResourcePack

	mu      sync.Mutex // guards entries, result and store writes
	entries []types.CacheEntry
	result  *Result
}

// dispatch embeds files in batches of CheckpointEvery. A batch is drained
// before its checkpoint so the flush holds every file dispatched so far.
func (r *buildRun) dispatch(ctx context.Context, files []string, labeler *Labeler, progress Progress) error {
	cfg := r.builder.cfg
	newBatch := func() *errgroup.Group {
		g := &errgroup.Group{}
		g.SetLimit(cfg.Workers)
		return g
	}
	g := newBatch()

	var cancelled error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}

		source := Stem(path)
		for _, label := range labeler.Labels(path) {
			if err := r.waitForHeadroom(ctx); err != nil {
				cancelled = err
				break
			}
			g.Go(func() error {
				r.embed(ctx, source, path, label)
				return nil
			})
		}
		if cancelled != nil {
			break
		}

		if progress != nil {
			progress(i+1, len(files))
		}

		if i > 0 && i%cfg.CheckpointEvery == 0 {
			_ = g.Wait()
			g = newBatch()
			if r.builder.limiter.SinceLast() < cfg.CheckpointHeadroom {
				r.checkpoint(ctx)
			}
		}
	}

	_ = g.Wait()
	return cancelled
}

func (r *buildRun) checkpoint(ctx context.Context) {
	if err := r.flush(ctx); err != nil {
		slog.Warn("checkpoint failed", slog.String("pack", r.pack.ID), slog.Any("error", err))
		return
	}
	r.mu.Lock()
	r.result.Checkpoints++
	r.mu.Unlock()
}

// waitForHeadroom blocks while the rate limiter is overloaded
func (r *buildRun) waitForHeadroom(ctx context.Context) error {
	for r.builder.limiter.Overloaded() {
		slog.Debug("rate limit reached, waiting", slog.Duration("interval", r.builder.cfg.BackoffInterval))
		timer := time.NewTimer(r.builder.cfg.BackoffInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (r *buildRun) embed(ctx context.Context, source, path, label string) {
	vector, err := r.builder.embedder.Embed(ctx, label)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("embedding failed",
			slog.String("path", path),
			slog.String("label", label),
			slog.Any("error", err))
		r.result.Errors = append(r.result.Errors, &types.FileError{Path: path, Label: label, Err: err})
		return
	}
	r.entries = append(r.entries, types.CacheEntry{
		SourceFilename: source,
		FilePath:       path,
		Vector:         vector,
		Label:          label,
		ContentType:    r.pack.ContentType(),
		PackID:         r.pack.ID,
	})
	r.result.Success++
}

// flush writes all accumulated entries. Flushes never interleave since the
// store write happens under the mutex that guards the entries.
func (r *buildRun) flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Replace(ctx, r.entries); err != nil {
		return err
	}
	if f, ok := r.builder.embedder.(Flusher); ok {
		if err := f.Flush(); err != nil {
			slog.Warn("failed to persist embedding cache", slog.Any("error", err))
		}
	}
	return nil
}
