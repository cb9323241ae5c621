package initializers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/hibiki/internal/config"
)

// Initializer builds one runtime component for a workspace.
type Initializer[T any] interface {
	Initialize(ctx context.Context, cfg *config.Config, workspaceID string) (T, error)
}

// Run initializes a component and labels any failure with component.
func Run[T any](ctx context.Context, component string, init Initializer[T], cfg *config.Config, workspaceID string) (T, error) {
	start := time.Now()
	out, err := init.Initialize(ctx, cfg, workspaceID)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("init %s: %w", component, err)
	}
	slog.Debug("Component initialized", "component", component, "workspace", workspaceID, "took", time.Since(start))
	return out, nil
}
