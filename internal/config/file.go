package config

import (
	"log/slog"
	"sync"
)

// File is a loaded config bound to its path. Every mutation is validated
// and saved before it becomes visible. It implements the pack registry's
// state store.
type File struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

// Open loads the config at path, or defaults when the file does not exist
func Open(path string) (*File, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, cfg: cfg}, nil
}

// Path returns the config file location
func (f *File) Path() string {
	return f.path
}

// Config returns a copy of the current configuration
func (f *File) Config() *Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.Clone()
}

// Update applies fn to a copy of the config, validates and saves it, and
// only then publishes it. On error the previous config stays current.
func (f *File) Update(fn func(*Config)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.cfg.Clone()
	fn(next)
	if err := Save(f.path, next); err != nil {
		return err
	}
	f.cfg = next
	slog.Debug("config saved", slog.String("path", f.path))
	return nil
}

// PackEnabled reports the persisted enabled state of a pack. Unknown packs
// are disabled.
func (f *File) PackEnabled(packID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.ResourcePacks[packID].Enabled
}

// SetPackEnabled persists the enabled state of a pack in one write
func (f *File) SetPackEnabled(packID string, enabled bool) error {
	return f.Update(func(c *Config) {
		state := c.ResourcePacks[packID]
		state.Enabled = enabled
		c.ResourcePacks[packID] = state
	})
}

// SetMode persists the embedding mode and the model for that mode
func (f *File) SetMode(mode, model string) error {
	return f.Update(func(c *Config) {
		c.Mode = mode
		if model == "" {
			return
		}
		if mode == "local" {
			c.Models.DefaultModel = model
		} else {
			c.API.Embedding.Model = model
		}
	})
}
