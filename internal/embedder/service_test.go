package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/pkg/types"
)

func l2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func newLocalService(t *testing.T) *Service {
	t.Helper()
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "mini", testModelConfig)
	writeModel(t, modelsDir, "other", `{"dimension": 32}`)

	svc, err := NewService(RemoteConfig{}, testLocalConfig(modelsDir, "mini"), ModeLocal, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Remote ")
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, m)

	m, err = ParseMode("local")
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, m)

	_, err = ParseMode("gpu")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestService_VectorsAreUnitLength(t *testing.T) {
	svc := newLocalService(t)

	for _, text := range []string{"a", "dog", "happy cat", "ñandú", "  padded  ", "x-y-z 123"} {
		v, err := svc.Embed(context.Background(), text)
		require.NoError(t, err, text)
		assert.InDelta(t, 1.0, l2(v), 1e-5, text)
	}
}

func TestService_EmptyText(t *testing.T) {
	svc := newLocalService(t)
	_, err := svc.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestService_SetModeSwitchesModel(t *testing.T) {
	svc := newLocalService(t)
	assert.Equal(t, "local:mini", svc.ModelID())
	assert.Equal(t, ModeLocal, svc.Mode())

	require.NoError(t, svc.SetMode(ModeLocal, "other"))
	assert.Equal(t, "local:other", svc.ModelID())

	v, err := svc.Embed(context.Background(), "cat")
	require.NoError(t, err)
	assert.Len(t, v, 32)
	assert.Equal(t, 32, svc.Dimension())

	assert.ErrorIs(t, svc.SetMode(Mode("gpu"), ""), ErrUnknownMode)
	assert.Equal(t, "local:other", svc.ModelID(), "failed switch keeps the active provider")
}

func TestService_Invalidate(t *testing.T) {
	svc := newLocalService(t)
	_, err := svc.Embed(context.Background(), "cat")
	require.NoError(t, err)

	local, err := svc.Local("")
	require.NoError(t, err)
	assert.True(t, local.Loaded())

	require.NoError(t, svc.Invalidate())
	assert.False(t, local.Loaded())

	_, err = svc.Embed(context.Background(), "cat")
	require.NoError(t, err)
	assert.True(t, local.Loaded())
}

func TestService_LocalReturnsInactiveProvider(t *testing.T) {
	svc := newLocalService(t)

	p, err := svc.Local("other")
	require.NoError(t, err)
	assert.Equal(t, "other", p.Name())
	assert.True(t, p.Downloaded())
	assert.Equal(t, "local:mini", svc.ModelID())
}

func TestService_RemoteModeSwitchClearsMemoryCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{3, 4}}},
		})
	}))
	defer server.Close()

	remote := RemoteConfig{BaseURL: server.URL, APIKey: "k", Model: "m", Retry: fastRetry()}
	svc, err := NewService(remote, LocalConfig{ModelsDir: t.TempDir(), Name: "mini"}, ModeRemote, "")
	require.NoError(t, err)
	defer svc.Close()

	v, err := svc.Embed(context.Background(), "dog")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, v, 1e-6)

	_, err = svc.Embed(context.Background(), "dog")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, svc.SetMode(ModeRemote, "m"))
	_, err = svc.Embed(context.Background(), "dog")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "switching models drops the in-memory cache")
}

func TestService_RejectsZeroVectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{0, 0, 0}}},
		})
	}))
	defer server.Close()

	svc, err := NewService(RemoteConfig{BaseURL: server.URL, APIKey: "k", Retry: fastRetry()}, LocalConfig{}, ModeRemote, "")
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Embed(context.Background(), "void")
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestService_LocalModelUnavailable(t *testing.T) {
	svc, err := NewService(RemoteConfig{}, LocalConfig{ModelsDir: t.TempDir(), Name: "missing"}, ModeLocal, "")
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Embed(context.Background(), "cat")
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func TestService_ConcurrentEmbedAndSwitch(t *testing.T) {
	svc := newLocalService(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v, err := svc.Embed(context.Background(), "cat")
				if assert.NoError(t, err) {
					assert.InDelta(t, 1.0, l2(v), 1e-5)
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		model := "mini"
		if i%2 == 0 {
			model = "other"
		}
		require.NoError(t, svc.SetMode(ModeLocal, model))
	}
	wg.Wait()
}

func TestService_ClosedService(t *testing.T) {
	svc := newLocalService(t)
	require.NoError(t, svc.Close())

	_, err := svc.Embed(context.Background(), "cat")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "", svc.ModelID())
}

func TestNew_WithPersistentCache(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "models"), "mini", testModelConfig)

	svc, closeFn, err := New(Config{
		Mode:        ModeLocal,
		CachePath:   filepath.Join(dir, "cache", "embeddings.bolt"),
		LocalModel:  "mini",
		ModelsDir:   filepath.Join(dir, "models"),
		ModelFiles:  []string{testModelFile},
		ModelLoader: loadBucketRuntime,
	})
	require.NoError(t, err)

	assert.Equal(t, "local:mini", svc.ModelID())
	assert.FileExists(t, filepath.Join(dir, "cache", "embeddings.bolt"))
	require.NoError(t, svc.Flush())
	require.NoError(t, closeFn())
}
