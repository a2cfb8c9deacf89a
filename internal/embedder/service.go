package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/packsearch/pkg/types"
)

// Mode selects the provider family
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// ParseMode accepts "remote" or "local" in any case
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRemote:
		return ModeRemote, nil
	case ModeLocal:
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Service is the embedding entry point for the rest of the program. It owns
// the active provider and returns unit vectors.
//
// SetMode and Invalidate take the write lock, Embed the read lock, so every
// Embed that starts after SetMode returns observes the new provider.
type Service struct {
	remoteCfg RemoteConfig
	localCfg  LocalConfig

	mu      sync.RWMutex
	mode    Mode
	current Embedder
}

// NewService creates a service in mode. model names the remote model or the
// local model, empty keeps the configured default.
func NewService(remote RemoteConfig, local LocalConfig, mode Mode, model string) (*Service, error) {
	s := &Service{remoteCfg: remote, localCfg: local}
	if err := s.SetMode(mode, model); err != nil {
		return nil, err
	}
	return s, nil
}

// SetMode switches provider family or model. The in-memory request cache
// of the old provider is dropped; persisted caches are left alone.
func (s *Service) SetMode(mode Mode, model string) error {
	s.mu.Lock()
	next, err := s.newProvider(mode, model)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.current
	s.current = next
	s.mode = mode
	s.mu.Unlock()

	if prev != nil {
		return prev.Close()
	}
	return nil
}

// newProvider requires s.mu held for writing
func (s *Service) newProvider(mode Mode, model string) (Embedder, error) {
	switch mode {
	case ModeRemote:
		cfg := s.remoteCfg
		if model != "" {
			cfg.Model = model
		}
		cfg.Cache = nil
		p, err := NewRemoteProvider(cfg)
		if err != nil {
			return nil, err
		}
		s.remoteCfg.Model = p.Model()
		return p, nil
	case ModeLocal:
		cfg := s.localCfg
		if model != "" {
			cfg.Name = model
		}
		p, err := NewLocalProvider(cfg)
		if err != nil {
			return nil, err
		}
		s.localCfg.Name = p.Name()
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Invalidate drops in-memory state of the active provider. The next Embed
// reloads the local model or refetches remote vectors missing on disk.
func (s *Service) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := s.current.(type) {
	case *RemoteProvider:
		p.ClearCache()
	case *LocalProvider:
		return p.Unload()
	}
	return nil
}

// Embed returns the unit-length embedding of text
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = NormalizeText(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrClosed
	}

	v, err := s.current.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	unit, err := NormalizeVector(v)
	if err != nil {
		if errors.Is(err, ErrZeroVector) {
			return nil, fmt.Errorf("%w: %v", types.ErrProvider, err)
		}
		return nil, err
	}
	return unit, nil
}

// Mode returns the active provider family
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// ModelID identifies the active model, used to key caches and the index
func (s *Service) ModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ModelID()
}

func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Dimension()
}

// Local returns a provider for the named local model without activating
// it, for download and load commands. Empty name means the configured one.
func (s *Service) Local(name string) (*LocalProvider, error) {
	s.mu.RLock()
	if p, ok := s.current.(*LocalProvider); ok && (name == "" || name == p.Name()) {
		s.mu.RUnlock()
		return p, nil
	}
	cfg := s.localCfg
	s.mu.RUnlock()

	if name != "" {
		cfg.Name = name
	}
	return NewLocalProvider(cfg)
}

// Flush persists buffered provider state
func (s *Service) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.current.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close closes the active provider
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
