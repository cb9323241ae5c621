package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/hibiki/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Models ModelsConfig `koanf:"models"`
	Engine EngineConfig `koanf:"engine"`
	Store  StoreConfig  `koanf:"store"`
	Tools  ToolsConfig  `koanf:"tools"`
	Batch  BatchConfig  `koanf:"batch"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type ModelsConfig struct {
	Default  string          `koanf:"default"`
	Fallback string          `koanf:"fallback"`
	Registry []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name      string `koanf:"name"`
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	Script    string `koanf:"script"`
	MaxTokens int    `koanf:"max_tokens"`
}

// UpstreamModel is the model identifier sent to the provider. It defaults to the registry name.
func (m ModelRegistry) UpstreamModel() string {
	if strings.TrimSpace(m.Model) != "" {
		return strings.TrimSpace(m.Model)
	}
	return m.Name
}

type EngineConfig struct {
	MaxTurns     int    `koanf:"max_turns"`
	ToolTimeout  string `koanf:"tool_timeout"`
	StrictSchema bool   `koanf:"strict_schema"`
	SystemPrompt string `koanf:"system_prompt"`
	HistoryLimit int    `koanf:"history_limit"`
}

type StoreConfig struct {
	WorkspacePath            string `koanf:"workspace_path"`
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	LockMaxRetry             int    `koanf:"lock_max_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
}

type ToolsConfig struct {
	Weather WeatherToolConfig `koanf:"weather"`
}

type WeatherToolConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type BatchConfig struct {
	Concurrency int `koanf:"concurrency"`
}

const (
	DefaultWorkspaceID                   = "default"
	DefaultServerLogLevel                = "info"
	DefaultModelDefault                  = "gpt-4o-mini"
	DefaultModelFallback                 = ""
	DefaultOpenAIBaseURL                 = "https://api.openai.com/v1"
	DefaultOllamaBaseURL                 = "http://localhost:11434/v1"
	DefaultOllamaAPIKey                  = "ollama"
	DefaultAnthropicModel                = "claude-3-7-sonnet-latest"
	DefaultAnthropicMaxTokens            = 1024
	DefaultGeminiModel                   = "gemini-2.0-flash"
	DefaultEngineMaxTurns                = 8
	DefaultEngineToolTimeout             = "30s"
	DefaultEngineStrictSchema            = false
	DefaultEngineSystemPrompt            = "You are a helpful assistant. Use the available tools when they help answer the user."
	DefaultEngineHistoryLimit            = 50
	DefaultStoreLockTimeout              = "30s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreLockMaxRetry             = 300
	DefaultStoreInboxSize                = 100
	DefaultStoreTranscriptRotateMaxBytes = 10 * 1024 * 1024
	DefaultWeatherToolBaseURL            = "https://wttr.in"
	DefaultWeatherToolTimeout            = "10s"
	DefaultBatchConcurrency              = 4
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.log_level": DefaultServerLogLevel,
		"models.default":   DefaultModelDefault,
		"models.fallback":  DefaultModelFallback,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: "claude", Provider: "anthropic", Model: DefaultAnthropicModel, MaxTokens: DefaultAnthropicMaxTokens},
			{Name: "gemini", Provider: "gemini", Model: DefaultGeminiModel},
			{Name: "local-llama", Provider: "ollama", Model: "llama3.1", BaseURL: DefaultOllamaBaseURL},
		},
		"engine.max_turns":                  DefaultEngineMaxTurns,
		"engine.tool_timeout":               DefaultEngineToolTimeout,
		"engine.strict_schema":              DefaultEngineStrictSchema,
		"engine.system_prompt":              DefaultEngineSystemPrompt,
		"engine.history_limit":              DefaultEngineHistoryLimit,
		"store.workspace_path":              filepath.Join(os.Getenv("HOME"), ".hibiki", "workspaces"),
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,
		"tools.weather.base_url":            DefaultWeatherToolBaseURL,
		"tools.weather.timeout":             DefaultWeatherToolTimeout,
		"batch.concurrency":                 DefaultBatchConcurrency,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".hibiki", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("HIBIKI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HIBIKI_")), "__", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	injectAPIKey(&cfg, "openai", os.Getenv("OPENAI_API_KEY"))
	injectAPIKey(&cfg, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	injectAPIKey(&cfg, "gemini", os.Getenv("GEMINI_API_KEY"))

	return &cfg, nil
}

func injectAPIKey(cfg *Config, provider, key string) {
	if key == "" {
		return
	}
	for i, m := range cfg.Models.Registry {
		if m.Provider == provider && m.APIKey == "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

// FindModel returns the registry entry for name.
func (c *Config) FindModel(name string) (ModelRegistry, bool) {
	for _, m := range c.Models.Registry {
		if m.Name == name {
			return m, true
		}
	}
	return ModelRegistry{}, false
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := expandConfiguredPath(cfg.Store.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Store.WorkspacePath = workspacePath
	}

	for i := range cfg.Models.Registry {
		script, err := expandConfiguredPath(cfg.Models.Registry[i].Script)
		if err != nil {
			return err
		}
		if script != "" {
			cfg.Models.Registry[i].Script = script
		}
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
