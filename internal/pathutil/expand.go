package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// SafeSegment turns an identifier into a single path segment.
// Separators, dots and whitespace become '_' so a session ID can never escape its parent directory.
func SafeSegment(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r == '/' || r == '\\' || r == '.' || r == ':':
			b.WriteRune('_')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func resolveHomeDir() (string, error) {
	candidates := []func() string{
		func() string {
			home, _ := os.UserHomeDir()
			return home
		},
		func() string {
			if current, err := user.Current(); err == nil {
				return current.HomeDir
			}
			return ""
		},
	}
	for _, candidate := range candidates {
		if home := strings.TrimSpace(candidate()); isResolved(home) {
			return home, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !isResolved(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func isResolved(home string) bool {
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
