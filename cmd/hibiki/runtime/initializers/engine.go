package initializers

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/conversation"
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/tool"
)

// EngineComponents is what EngineInitializer produces.
type EngineComponents struct {
	Executor *dispatch.Executor
	Engine   *conversation.Engine
}

type EngineInitializer struct {
	transport model.Transport
	registry  *tool.Registry
}

var _ Initializer[*EngineComponents] = (*EngineInitializer)(nil)

func NewEngineInitializer(transport model.Transport, registry *tool.Registry) *EngineInitializer {
	return &EngineInitializer{transport: transport, registry: registry}
}

func (ei *EngineInitializer) Initialize(ctx context.Context, cfg *config.Config, workspaceID string) (*EngineComponents, error) {
	_ = ctx
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if ei.transport == nil {
		return nil, fmt.Errorf("model transport not initialized")
	}
	if ei.registry == nil {
		return nil, fmt.Errorf("tool registry not initialized")
	}

	toolTimeout, err := config.DurationOrDefault(cfg.Engine.ToolTimeout, config.DefaultEngineToolTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse engine tool timeout: %w", err)
	}

	executor := dispatch.NewExecutor(ei.registry, dispatch.Options{
		Timeout:      toolTimeout,
		StrictSchema: cfg.Engine.StrictSchema,
	})

	engine := conversation.NewEngine(ei.transport, executor, conversation.EngineOptions{
		Model:        cfg.Models.Default,
		MaxTurns:     cfg.Engine.MaxTurns,
		HistoryLimit: cfg.Engine.HistoryLimit,
		Tools:        ei.registry.Definitions(),
	})

	return &EngineComponents{Executor: executor, Engine: engine}, nil
}
