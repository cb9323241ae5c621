package initializers

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/store"
)

type StoreInitializer struct{}

var _ Initializer[*store.Worker] = (*StoreInitializer)(nil)

func NewStoreInitializer() *StoreInitializer {
	return &StoreInitializer{}
}

// Initialize opens and starts the workspace's store worker. The caller owns Stop.
func (si *StoreInitializer) Initialize(ctx context.Context, cfg *config.Config, workspaceID string) (*store.Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	runtimeCfg, err := store.RuntimeConfigFrom(cfg.Store)
	if err != nil {
		return nil, err
	}

	worker, err := store.NewWorker(ctx, workspaceID, cfg.Store.WorkspacePath, runtimeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store worker: %w", err)
	}
	worker.Start()
	return worker, nil
}
