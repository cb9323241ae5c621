package initializers

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/model"
)

type ModelInitializer struct{}

var _ Initializer[*model.Router] = (*ModelInitializer)(nil)

func NewModelInitializer() *ModelInitializer {
	return &ModelInitializer{}
}

// Initialize returns a *model.Router over the configured registry.
func (mi *ModelInitializer) Initialize(ctx context.Context, cfg *config.Config, workspaceID string) (*model.Router, error) {
	_ = ctx
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	router, err := model.NewRouter(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("build model router: %w", err)
	}

	modelName := cfg.Models.Default
	if modelName != "" && !router.Has(modelName) && (cfg.Models.Fallback == "" || !router.Has(cfg.Models.Fallback)) {
		return nil, fmt.Errorf("default model %q is not available (configured: %v)", modelName, router.ListModels())
	}
	return router, nil
}
