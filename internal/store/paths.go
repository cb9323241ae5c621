package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/hibiki/internal/pathutil"
)

// ResolveWorkspaceRootPath resolves configured workspace root path.
// If empty, it falls back to ~/.hibiki/workspaces.
func ResolveWorkspaceRootPath(workspaceRootPath string) (string, error) {
	if trimmed := strings.TrimSpace(workspaceRootPath); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hibiki", "workspaces"), nil
}

// GetWorkspacePath returns the base path for a workspace.
func GetWorkspacePath(workspaceID string, workspaceRootPath string) (string, error) {
	root, err := ResolveWorkspaceRootPath(workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, pathutil.SafeSegment(workspaceID)), nil
}

// GetSessionsDir returns the sessions directory for a workspace.
func GetSessionsDir(workspaceID string, workspaceRootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "sessions"), nil
}

// GetLockPath returns the lock file path for a workspace.
func GetLockPath(workspaceID string, workspaceRootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "workspace.lock"), nil
}

// transcriptPath is the live JSONL file for a session.
func transcriptPath(sessionsDir, sessionID string) string {
	return filepath.Join(sessionsDir, pathutil.SafeSegment(sessionID)+".jsonl")
}

func indexPath(sessionsDir string) string {
	return filepath.Join(sessionsDir, "index.json")
}
