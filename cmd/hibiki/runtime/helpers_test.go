package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/hibiki/internal/config"

	"github.com/stretchr/testify/require"
)

const greetingScript = `
turns:
  - chunks:
      - content: "Hi "
      - content: "there."
      - finish_reason: stop
`

// testConfig points the store at a temp dir and the default model at a replay script.
func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0644))

	return &config.Config{
		Models: config.ModelsConfig{
			Default: "scripted",
			Registry: []config.ModelRegistry{
				{Name: "scripted", Provider: "replay", Script: scriptPath},
			},
		},
		Engine: config.EngineConfig{
			MaxTurns:     4,
			ToolTimeout:  "2s",
			SystemPrompt: "You are a test assistant.",
		},
		Store: config.StoreConfig{
			WorkspacePath: filepath.Join(dir, "workspaces"),
			LockTimeout:   "1s",
			LockRetry:     "10ms",
		},
		Tools: config.ToolsConfig{
			Weather: config.WeatherToolConfig{BaseURL: "http://127.0.0.1:0", Timeout: "1s"},
		},
	}
}
