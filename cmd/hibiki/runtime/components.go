package runtime

import (
	"context"
	"log/slog"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime/initializers"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/conversation"
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/session"
	"github.com/harunnryd/hibiki/internal/store"
	"github.com/harunnryd/hibiki/internal/tool"
)

type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config      *config.Config
	WorkspaceID string

	StoreWorker  *store.Worker
	ToolRegistry *tool.Registry
	Router       *model.Router
	Executor     *dispatch.Executor
	Engine       *conversation.Engine
	Sessions     *session.Manager
}

func NewRuntimeComponents(ctx context.Context, cfg *config.Config, workspaceID string, extraTools ...tool.Tool) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	components := &RuntimeComponents{
		Ctx:         ctx,
		Cancel:      cancel,
		Config:      cfg,
		WorkspaceID: workspaceID,
	}

	var err error
	if components.StoreWorker, err = initializers.Run(ctx, "store worker", initializers.NewStoreInitializer(), cfg, workspaceID); err != nil {
		components.cleanup()
		return nil, err
	}
	if components.ToolRegistry, err = initializers.Run(ctx, "tools", initializers.NewToolsInitializer(extraTools...), cfg, workspaceID); err != nil {
		components.cleanup()
		return nil, err
	}
	if components.Router, err = initializers.Run(ctx, "model router", initializers.NewModelInitializer(), cfg, workspaceID); err != nil {
		components.cleanup()
		return nil, err
	}

	engine, err := initializers.Run(ctx, "engine", initializers.NewEngineInitializer(components.Router, components.ToolRegistry), cfg, workspaceID)
	if err != nil {
		components.cleanup()
		return nil, err
	}
	components.Executor = engine.Executor
	components.Engine = engine.Engine

	components.Sessions = session.NewManager(components.Engine, components.StoreWorker, session.Options{
		SystemPrompt: cfg.Engine.SystemPrompt,
	})

	slog.Info("Runtime components initialized successfully",
		"workspace", workspaceID,
		"model", cfg.Models.Default,
		"tools", components.ToolRegistry.Len())
	return components, nil
}

func (r *RuntimeComponents) Stop() {
	slog.Debug("Stopping runtime components...")

	r.Cancel()

	if r.StoreWorker != nil {
		r.StoreWorker.Stop()
	}

	slog.Debug("Runtime components stopped")
}

func (r *RuntimeComponents) cleanup() {
	slog.Debug("Cleaning up runtime components...")
	r.Stop()
}
