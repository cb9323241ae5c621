package runtime

import (
	"os"
	"strings"

	"github.com/harunnryd/hibiki/internal/config"

	"github.com/spf13/cobra"
)

const (
	DefaultWorkspaceID = config.DefaultWorkspaceID

	// WorkspaceEnv names the workspace when --workspace is not given.
	WorkspaceEnv = "HIBIKI_WORKSPACE"
)

// ResolveWorkspaceID picks the --workspace flag, then $HIBIKI_WORKSPACE, then the default.
// Blank values are treated as unset.
func ResolveWorkspaceID(cmd *cobra.Command) string {
	var flagValue string
	if cmd != nil {
		flagValue, _ = cmd.Flags().GetString("workspace")
	}

	for _, candidate := range []string{flagValue, os.Getenv(WorkspaceEnv)} {
		if id := strings.TrimSpace(candidate); id != "" {
			return id
		}
	}
	return DefaultWorkspaceID
}
