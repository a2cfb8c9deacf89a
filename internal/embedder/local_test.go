package embedder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/pkg/types"
)

const testModelConfig = `{"dimension": 64}`

// modelServer hosts one model named "mini" with a config.json and weights.bin
func modelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/models/mini/config.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testModelConfig))
	})
	mux.HandleFunc("/models/mini/weights.bin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{1, 2, 3})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeModel(t *testing.T, modelsDir, name, config string) {
	t.Helper()
	dir := filepath.Join(modelsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, testModelFile), []byte(config), 0o644))
}

func testLocalConfig(modelsDir, name string) LocalConfig {
	return LocalConfig{
		Name:      name,
		ModelsDir: modelsDir,
		Files:     []string{testModelFile},
		Loader:    loadBucketRuntime,
	}
}

func TestNewLocalProvider_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "..", "a/b", "../escape"} {
		_, err := NewLocalProvider(LocalConfig{Name: name, ModelsDir: t.TempDir()})
		assert.ErrorIs(t, err, types.ErrModelUnavailable, "name %q", name)
	}
}

func TestLocalProvider_Download(t *testing.T) {
	server := modelServer(t)
	modelsDir := t.TempDir()

	p, err := NewLocalProvider(LocalConfig{
		Name:      "mini",
		ModelsDir: modelsDir,
		BaseURL:   server.URL + "/models/",
		Files:     []string{"config.json", "weights.bin"},
		Loader:    loadBucketRuntime,
	})
	require.NoError(t, err)
	assert.False(t, p.Downloaded())

	require.NoError(t, p.Download(context.Background()))
	assert.True(t, p.Downloaded())
	assert.FileExists(t, filepath.Join(modelsDir, "mini", "weights.bin"))

	require.NoError(t, p.Load())
	assert.True(t, p.Loaded())
	assert.Equal(t, 64, p.Dimension())
}

func TestLocalProvider_FailedDownloadRemovesDir(t *testing.T) {
	server := modelServer(t)
	modelsDir := t.TempDir()

	p, err := NewLocalProvider(LocalConfig{
		Name:      "mini",
		ModelsDir: modelsDir,
		BaseURL:   server.URL + "/models",
		Files:     []string{"config.json", "missing.bin"},
	})
	require.NoError(t, err)

	err = p.Download(context.Background())
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.NoDirExists(t, p.Dir(), "partial download must be removed")

	// A retry starts clean and fails the same way
	err = p.Download(context.Background())
	assert.Error(t, err)
	assert.NoDirExists(t, p.Dir())
}

func TestLocalProvider_DownloadWithoutBaseURL(t *testing.T) {
	p, err := NewLocalProvider(LocalConfig{Name: "mini", ModelsDir: t.TempDir()})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Download(context.Background()), types.ErrModelUnavailable)
}

func TestLocalProvider_EmbedLazyLoads(t *testing.T) {
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "mini", testModelConfig)

	p, err := NewLocalProvider(testLocalConfig(modelsDir, "mini"))
	require.NoError(t, err)
	assert.False(t, p.Loaded())

	v, err := p.Embed(context.Background(), "happy cat")
	require.NoError(t, err)
	assert.Len(t, v, 64)
	assert.True(t, p.Loaded())
	assert.Equal(t, "local:mini", p.ModelID())

	require.NoError(t, p.Unload())
	assert.False(t, p.Loaded())
}

func TestLocalProvider_NotDownloaded(t *testing.T) {
	p, err := NewLocalProvider(LocalConfig{Name: "absent", ModelsDir: t.TempDir()})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "cat")
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func TestLocalProvider_LoadFailureRemovesModel(t *testing.T) {
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "broken", `{"dimension": 0}`)

	p, err := NewLocalProvider(testLocalConfig(modelsDir, "broken"))
	require.NoError(t, err)

	err = p.Load()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.NoDirExists(t, p.Dir())
	assert.False(t, p.Downloaded())
}

func TestLocalProvider_CustomLoader(t *testing.T) {
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "custom", "{}")

	loadErr := errors.New("unsupported format")
	calls := 0
	p, err := NewLocalProvider(LocalConfig{
		Name:      "custom",
		ModelsDir: modelsDir,
		Files:     []string{testModelFile},
		Loader: func(dir string) (Runtime, error) {
			calls++
			assert.Equal(t, filepath.Join(modelsDir, "custom"), dir)
			return nil, loadErr
		},
	})
	require.NoError(t, err)

	err = p.Load()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Contains(t, err.Error(), loadErr.Error())
	assert.Equal(t, 1, calls)
}

func TestLocalProvider_WithoutLoaderKeepsFiles(t *testing.T) {
	modelsDir := t.TempDir()
	dir := filepath.Join(modelsDir, "bge")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultModelFile), []byte("gguf"), 0o644))

	p, err := NewLocalProvider(LocalConfig{Name: "bge", ModelsDir: modelsDir})
	require.NoError(t, err)
	assert.True(t, p.Downloaded(), "default file list is the gguf model")

	err = p.Load()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.FileExists(t, filepath.Join(dir, DefaultModelFile), "a missing runtime is not a broken model")
}

func TestFindModelFile(t *testing.T) {
	dir := t.TempDir()
	_, err := FindModelFile(dir, "*.gguf")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bge-m3-q4.gguf"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), nil, 0o644))
	path, err := FindModelFile(dir, "*.gguf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bge-m3-q4.gguf"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.gguf"), nil, 0o644))
	_, err = FindModelFile(dir, "*.gguf")
	assert.ErrorContains(t, err, "expected one")
}
