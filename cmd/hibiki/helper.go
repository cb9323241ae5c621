package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime"

	"github.com/harunnryd/hibiki/internal/config"

	"github.com/spf13/cobra"
)

func executeWithRuntime(ctx context.Context, cmd *cobra.Command, conf *config.Config, fn func(*runtime.RuntimeComponents) error) error {
	workspaceID := runtime.ResolveWorkspaceID(cmd)

	builder := runtime.NewRuntimeBuilder().
		WithContext(ctx).
		WithConfig(conf).
		WithWorkspace(workspaceID)

	components, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Stop()

	return fn(components)
}
