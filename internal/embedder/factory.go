package embedder

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds embedder configuration
type Config struct {
	Mode Mode

	// Remote provider
	BaseURL     string
	APIKey      string
	RemoteModel string
	CacheSize   int

	// CachePath is the bbolt file of the persisted request cache, empty
	// disables persistence
	CachePath string

	// Local provider
	LocalModel   string
	ModelsDir    string
	ModelBaseURL string
	ModelFiles   []string
	ModelLoader  Loader

	Limiter Recorder
}

// New creates a Service and opens the persisted request cache. The returned
// closer releases the persisted cache after the service is closed.
func New(cfg Config) (*Service, func() error, error) {
	var persist *PersistentCache
	if cfg.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create embedding cache dir: %w", err)
		}
		p, err := OpenPersistentCache(cfg.CachePath)
		if err != nil {
			return nil, nil, err
		}
		persist = p
	}

	remote := RemoteConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.RemoteModel,
		CacheSize: cfg.CacheSize,
		Limiter:   cfg.Limiter,
		Persist:   persist,
	}
	local := LocalConfig{
		Name:      cfg.LocalModel,
		ModelsDir: cfg.ModelsDir,
		BaseURL:   cfg.ModelBaseURL,
		Files:     cfg.ModelFiles,
		Loader:    cfg.ModelLoader,
	}

	model := cfg.RemoteModel
	if cfg.Mode == ModeLocal {
		model = cfg.LocalModel
	}
	svc, err := NewService(remote, local, cfg.Mode, model)
	if err != nil {
		if persist != nil {
			_ = persist.Close()
		}
		return nil, nil, err
	}

	closer := func() error {
		err := svc.Close()
		if persist != nil {
			if cerr := persist.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}
	return svc, closer, nil
}
