package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dshills/packsearch/pkg/types"
)

const localPrefix = "local:"

// DefaultModelFile is the file a local model directory holds when
// LocalConfig.Files is empty
const DefaultModelFile = "model.gguf"

// Runtime runs inference for a loaded local model
type Runtime interface {
	Embed(text string) ([]float32, error)
	Dimension() int
	Close() error
}

// Loader builds a Runtime from a downloaded model directory
type Loader func(dir string) (Runtime, error)

// LocalConfig configures a LocalProvider
type LocalConfig struct {
	Name      string
	ModelsDir string

	// BaseURL hosts model files at {BaseURL}/{Name}/{file}
	BaseURL string

	// Files lists the files a complete model directory contains
	Files []string

	// Loader turns the directory into a Runtime. Without one, local
	// models can be downloaded but not loaded.
	Loader     Loader
	HTTPClient *http.Client
}

// LocalProvider embeds text with a model stored under ModelsDir/Name.
// The model is loaded lazily on first use.
type LocalProvider struct {
	name       string
	dir        string
	baseURL    string
	files      []string
	loader     Loader
	httpClient *http.Client

	mu      sync.Mutex
	runtime Runtime
}

// NewLocalProvider creates a local embedder. Nothing is loaded yet.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: invalid model name %q", types.ErrModelUnavailable, cfg.Name)
	}
	files := cfg.Files
	if len(files) == 0 {
		files = []string{DefaultModelFile}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	return &LocalProvider{
		name:       name,
		dir:        filepath.Join(cfg.ModelsDir, name),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		files:      files,
		loader:     cfg.Loader,
		httpClient: client,
	}, nil
}

// Dir returns the model directory
func (l *LocalProvider) Dir() string {
	return l.dir
}

// Downloaded reports whether every model file is present
func (l *LocalProvider) Downloaded() bool {
	for _, f := range l.files {
		info, err := os.Stat(filepath.Join(l.dir, filepath.FromSlash(f)))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// Loaded reports whether the runtime is in memory
func (l *LocalProvider) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runtime != nil
}

// Download fetches the model files. Any failure removes the model directory
// so the next attempt starts clean.
func (l *LocalProvider) Download(ctx context.Context) (err error) {
	if l.Downloaded() {
		return nil
	}
	if l.baseURL == "" {
		return fmt.Errorf("%w: no download location configured for %s", types.ErrModelUnavailable, l.name)
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(l.dir); rmErr != nil {
				slog.Warn("failed to remove partial model download",
					slog.String("dir", l.dir),
					slog.Any("error", rmErr))
			}
		}
	}()

	for _, f := range l.files {
		if err := l.downloadFile(ctx, f); err != nil {
			return fmt.Errorf("%w: download %s/%s: %v", types.ErrModelUnavailable, l.name, f, err)
		}
	}
	slog.Info("local model downloaded", slog.String("model", l.name), slog.String("dir", l.dir))
	return nil
}

func (l *LocalProvider) downloadFile(ctx context.Context, file string) error {
	u := l.baseURL + "/" + url.PathEscape(l.name) + "/" + strings.TrimLeft(file, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	dest := filepath.Join(l.dir, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Load brings the runtime into memory. A model that fails to load is
// removed from disk since it cannot be repaired in place.
func (l *LocalProvider) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *LocalProvider) loadLocked() error {
	if l.runtime != nil {
		return nil
	}
	if !l.Downloaded() {
		return fmt.Errorf("%w: %s is not downloaded", types.ErrModelUnavailable, l.name)
	}
	if l.loader == nil {
		return fmt.Errorf("%w: no local runtime available to load %s", types.ErrModelUnavailable, l.name)
	}

	rt, err := l.loader(l.dir)
	if err != nil {
		slog.Warn("local model failed to load, removing it",
			slog.String("model", l.name),
			slog.Any("error", err))
		if rmErr := os.RemoveAll(l.dir); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("failed to remove model dir", slog.String("dir", l.dir), slog.Any("error", rmErr))
		}
		return fmt.Errorf("%w: load %s: %v", types.ErrModelUnavailable, l.name, err)
	}
	l.runtime = rt
	return nil
}

// FindModelFile returns the single file in dir matching pattern, as in
// filepath.Match
func FindModelFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no %s file in %s", pattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d %s files in %s, expected one", len(matches), pattern, dir)
	}
}

// Unload releases the runtime, keeping the files on disk
func (l *LocalProvider) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runtime == nil {
		return nil
	}
	err := l.runtime.Close()
	l.runtime = nil
	return err
}

// Embed runs the model, loading it first when it is downloaded but idle
func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if err := l.loadLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	rt := l.runtime
	l.mu.Unlock()

	v, err := rt.Embed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProvider, err)
	}
	return v, nil
}

func (l *LocalProvider) ModelID() string {
	return localPrefix + l.name
}

func (l *LocalProvider) Name() string {
	return l.name
}

func (l *LocalProvider) Dimension() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runtime == nil {
		return 0
	}
	return l.runtime.Dimension()
}

func (l *LocalProvider) Close() error {
	return l.Unload()
}
