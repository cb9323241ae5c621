package model

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stopScript = `
turns:
  - chunks:
      - content: "from replay"
        finish_reason: stop
`

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stopScript), 0o644))
	return path
}

func failingTransport(err error) Transport {
	return TransportFunc(func(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
		return nil, err
	})
}

func firstChunk(t *testing.T, st ChunkStream) contract.Chunk {
	t.Helper()
	defer st.Close()
	c, err := st.Recv()
	require.NoError(t, err)
	_, err = st.Recv()
	require.ErrorIs(t, err, io.EOF)
	return c
}

func TestNewRouter_SkipsUnbuildableEntries(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{
		Default: "demo",
		Registry: []config.ModelRegistry{
			{Name: "demo", Provider: "replay", Script: writeScript(t)},
			{Name: "gpt", Provider: "openai"},
			{Name: "odd", Provider: "carrier-pigeon"},
			{Name: "local", Provider: "ollama"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"demo", "local"}, r.ListModels())
	assert.True(t, r.Has("demo"))
	assert.False(t, r.Has("gpt"))
}

func TestNewRouter_NothingBuilt(t *testing.T) {
	_, err := NewRouter(config.ModelsConfig{
		Registry: []config.ModelRegistry{{Name: "demo", Provider: "replay"}},
	})
	assert.ErrorIs(t, err, hibikiErrors.ErrInternal)
}

func TestRouter_OpenUsesDefaultModel(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{
		Default:  "demo",
		Registry: []config.ModelRegistry{{Name: "demo", Provider: "replay", Script: writeScript(t)}},
	})
	require.NoError(t, err)

	st, err := r.Open(context.Background(), contract.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from replay", firstChunk(t, st).Content)
}

func TestRouter_FallbackOnOpenFailure(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{
		Default:  "primary",
		Fallback: "demo",
		Registry: []config.ModelRegistry{{Name: "demo", Provider: "replay", Script: writeScript(t)}},
	})
	require.NoError(t, err)
	r.Register("primary", failingTransport(errors.New("503 service unavailable")))

	st, err := r.Open(context.Background(), contract.CompletionRequest{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "from replay", firstChunk(t, st).Content)
}

func TestRouter_FallbackForUnknownModel(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{
		Fallback: "demo",
		Registry: []config.ModelRegistry{{Name: "demo", Provider: "replay", Script: writeScript(t)}},
	})
	require.NoError(t, err)

	st, err := r.Open(context.Background(), contract.CompletionRequest{Model: "missing"})
	require.NoError(t, err)
	assert.Equal(t, "from replay", firstChunk(t, st).Content)
}

func TestRouter_OpenErrors(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{})
	require.NoError(t, err)

	_, err = r.Open(context.Background(), contract.CompletionRequest{Model: "missing"})
	assert.ErrorIs(t, err, hibikiErrors.ErrNotFound)

	r.Register("flaky", failingTransport(errors.New("connection refused")))
	_, err = r.Open(context.Background(), contract.CompletionRequest{Model: "flaky"})
	assert.ErrorIs(t, err, hibikiErrors.ErrTransport)
	assert.True(t, hibikiErrors.IsRetryable(err))
}

func TestRouter_CancelledOpenSkipsFallback(t *testing.T) {
	r, err := NewRouter(config.ModelsConfig{Fallback: "backup"})
	require.NoError(t, err)

	backupCalled := false
	r.Register("backup", TransportFunc(func(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
		backupCalled = true
		return nil, errors.New("unexpected")
	}))
	r.Register("primary", TransportFunc(func(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Open(ctx, contract.CompletionRequest{Model: "primary"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, backupCalled)
}
