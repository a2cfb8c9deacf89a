package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by the config layer
const (
	EnvConfigPath = "PACKSEARCH_CONFIG"
	EnvAPIKey     = "PACKSEARCH_API_KEY"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// EmbeddingAPIConfig locates the OpenAI-compatible embeddings endpoint
type EmbeddingAPIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size,omitempty"`
}

// APIConfig groups remote service settings
type APIConfig struct {
	Embedding EmbeddingAPIConfig `yaml:"embedding"`
}

// ModelInfo describes a downloadable local model
type ModelInfo struct {
	Name        string `yaml:"name"`
	Performance string `yaml:"performance,omitempty"`
}

// ModelsConfig holds the local model settings
type ModelsConfig struct {
	DefaultModel string               `yaml:"default_model"`
	ModelsDir    string               `yaml:"models_dir"`
	BaseURL      string               `yaml:"base_url,omitempty"`
	Files        []string             `yaml:"files,omitempty"` // empty means model.gguf
	Available    map[string]ModelInfo `yaml:"available,omitempty"`
}

// PathsConfig holds data locations. Relative paths are resolved against the
// directory of the config file.
type PathsConfig struct {
	ResourcePacksDir   string `yaml:"resource_packs_dir"`
	CacheDir           string `yaml:"cache_dir"`
	EmbeddingCacheFile string `yaml:"embedding_cache_file"`
}

// SearchConfig holds query defaults
type SearchConfig struct {
	TopK            int     `yaml:"top_k"`
	DedupThreshold  float64 `yaml:"dedup_threshold"`
	CandidateFactor int     `yaml:"candidate_factor,omitempty"`
	ImageCacheSize  int     `yaml:"image_cache_size,omitempty"`
}

// BuildConfig holds cache build settings. Zero values select defaults.
type BuildConfig struct {
	Workers         int    `yaml:"workers,omitempty"`
	CheckpointEvery int    `yaml:"checkpoint_every,omitempty"`
	LabelDelimiter  string `yaml:"label_delimiter,omitempty"`
}

// PackState is the persisted state of one resource pack
type PackState struct {
	Enabled bool           `yaml:"enabled"`
	Extra   map[string]any `yaml:",inline"`
}

// Config is the in-memory representation of config.yaml
type Config struct {
	Mode          string               `yaml:"mode"`
	API           APIConfig            `yaml:"api"`
	Models        ModelsConfig         `yaml:"models"`
	Paths         PathsConfig          `yaml:"paths"`
	Search        SearchConfig         `yaml:"search"`
	Build         BuildConfig          `yaml:"build,omitempty"`
	ResourcePacks map[string]PackState `yaml:"resource_packs,omitempty"`

	// Extra keeps unknown top-level keys so they survive a save
	Extra map[string]any `yaml:",inline"`

	baseDir string
}

// Dir returns the default config directory, ~/.packsearch
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".packsearch"), nil
}

// DefaultPath returns $PACKSEARCH_CONFIG or ~/.packsearch/config.yaml
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return ExpandPath(p)
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Default returns the configuration written on first start
func Default() *Config {
	return &Config{
		Mode: "remote",
		API: APIConfig{Embedding: EmbeddingAPIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			CacheSize: 10000,
		}},
		Models: ModelsConfig{
			DefaultModel: "bge-small-en-v1.5",
			ModelsDir:    "models",
			Available: map[string]ModelInfo{
				"bge-small-en-v1.5": {Name: "bge-small-en-v1.5", Performance: "fast"},
				"bge-m3":            {Name: "bge-m3", Performance: "accurate"},
			},
		},
		Paths: PathsConfig{
			ResourcePacksDir:   "resource_packs",
			CacheDir:           "cache",
			EmbeddingCacheFile: "cache/embeddings.bolt",
		},
		Search: SearchConfig{
			TopK:           5,
			DedupThreshold: 0.9,
		},
		ResourcePacks: map[string]PackState{},
	}
}

// Load reads and validates the config file at path. A missing file yields
// Default with its base directory set to the directory of path.
func Load(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.baseDir = filepath.Dir(path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidConfig, err)
	}
	if cfg.ResourcePacks == nil {
		cfg.ResourcePacks = map[string]PackState{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and mode requirements. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Mode {
	case "remote":
		if strings.TrimSpace(c.API.Embedding.Model) == "" {
			add("api.embedding.model is required in remote mode")
		}
	case "local":
		if strings.TrimSpace(c.Models.DefaultModel) == "" {
			add("models.default_model is required in local mode")
		}
	default:
		add("mode must be remote or local, got %q", c.Mode)
	}

	if c.API.Embedding.CacheSize < 0 {
		add("api.embedding.cache_size must not be negative")
	}
	if c.Paths.ResourcePacksDir == "" {
		add("paths.resource_packs_dir is required")
	}
	if c.Paths.CacheDir == "" {
		add("paths.cache_dir is required")
	}
	if c.Models.ModelsDir == "" {
		add("models.models_dir is required")
	}
	if c.Search.TopK < 1 || c.Search.TopK > 100 {
		add("search.top_k must be between 1 and 100, got %d", c.Search.TopK)
	}
	if c.Search.DedupThreshold <= 0 || c.Search.DedupThreshold > 1 {
		add("search.dedup_threshold must be in (0, 1], got %g", c.Search.DedupThreshold)
	}
	if c.Search.CandidateFactor < 0 {
		add("search.candidate_factor must not be negative")
	}
	if c.Build.Workers < 0 || c.Build.Workers > 64 {
		add("build.workers must be between 0 and 64, got %d", c.Build.Workers)
	}
	if c.Build.CheckpointEvery < 0 {
		add("build.checkpoint_every must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ResolvePath expands ~ and makes relative paths absolute against the
// directory of the config file
func (c *Config) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	if expanded, err := ExpandPath(p); err == nil {
		p = expanded
	}
	if filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// ResourcePacksDir returns the resolved pack directory
func (c *Config) ResourcePacksDir() string {
	return c.ResolvePath(c.Paths.ResourcePacksDir)
}

// CacheDir returns the resolved cache root
func (c *Config) CacheDir() string {
	return c.ResolvePath(c.Paths.CacheDir)
}

// ModelsDir returns the resolved local model directory
func (c *Config) ModelsDir() string {
	return c.ResolvePath(c.Models.ModelsDir)
}

// EmbeddingCacheFile returns the resolved persisted request cache, empty
// when disabled
func (c *Config) EmbeddingCacheFile() string {
	return c.ResolvePath(c.Paths.EmbeddingCacheFile)
}

// APIKey returns $PACKSEARCH_API_KEY when set, else the configured key.
// The environment value is never written back to the file.
func (c *Config) APIKey() string {
	if k := strings.TrimSpace(os.Getenv(EnvAPIKey)); k != "" {
		return k
	}
	return c.API.Embedding.APIKey
}

// Clone returns a deep copy of the maps the registry and tools mutate
func (c *Config) Clone() *Config {
	cp := *c
	cp.ResourcePacks = make(map[string]PackState, len(c.ResourcePacks))
	for k, v := range c.ResourcePacks {
		cp.ResourcePacks[k] = v
	}
	cp.Models.Available = make(map[string]ModelInfo, len(c.Models.Available))
	for k, v := range c.Models.Available {
		cp.Models.Available[k] = v
	}
	cp.Models.Files = append([]string(nil), c.Models.Files...)
	return &cp
}

// Save marshals cfg and replaces the file at path atomically
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cannot replace config %s: %w", path, err)
	}
	return nil
}
