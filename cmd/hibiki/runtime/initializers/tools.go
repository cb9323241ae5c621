package initializers

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/tool"

	// Registers get_weather, roll_dice and time.
	_ "github.com/harunnryd/hibiki/internal/tool/builtin"
)

type ToolsInitializer struct {
	extra []tool.Tool
}

// NewToolsInitializer registers the built-ins plus extra.
var _ Initializer[*tool.Registry] = (*ToolsInitializer)(nil)

func NewToolsInitializer(extra ...tool.Tool) *ToolsInitializer {
	return &ToolsInitializer{extra: extra}
}

// Initialize returns a sealed *tool.Registry.
func (ti *ToolsInitializer) Initialize(ctx context.Context, cfg *config.Config, workspaceID string) (*tool.Registry, error) {
	_ = ctx
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	weatherTimeout, err := config.DurationOrDefault(cfg.Tools.Weather.Timeout, config.DefaultWeatherToolTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse weather tool timeout: %w", err)
	}

	registry, err := tool.NewBuiltinRegistry(tool.BuiltinOptions{
		WeatherBaseURL: cfg.Tools.Weather.BaseURL,
		WeatherTimeout: weatherTimeout,
	}, ti.extra...)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	return registry, nil
}
