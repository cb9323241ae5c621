package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"

	"github.com/gofrs/flock"
)

// FileLock keeps a second hibiki process from writing the same workspace.
type FileLock struct {
	fileLock    *flock.Flock
	lockPath    string
	workspaceID string
	acquiredAt  time.Time
	mu          sync.RWMutex
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

// AcquireFileLock takes workspace.lock under basePath, retrying until the lock is free,
// the retry budget runs out, LockTimeout passes or ctx is done.
func AcquireFileLock(ctx context.Context, workspaceID, basePath string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	fl := &FileLock{
		fileLock:    flock.New(filepath.Join(basePath, "workspace.lock")),
		lockPath:    filepath.Join(basePath, "workspace.lock"),
		workspaceID: workspaceID,
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.LockTimeout)
	defer cancel()

	if err := fl.acquireWithRetry(ctx, cfg); err != nil {
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Debug("File lock acquired", "workspace", workspaceID, "path", fl.lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(ctx context.Context, cfg *FileLockConfig) error {
	attempts := cfg.LockMaxRetry
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return hibikiErrors.Transient(fmt.Sprintf("workspace %s is locked by another instance (%v)", fl.workspaceID, ctx.Err()))
		case <-time.After(cfg.LockRetry):
		}
	}

	return hibikiErrors.Transient(fmt.Sprintf("workspace %s is locked by another instance (gave up after %d attempts)", fl.workspaceID, attempts))
}

// Unlock releases the lock. Calling it twice is harmless.
func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release file lock", "workspace", fl.workspaceID, "path", fl.lockPath, "error", err)
	} else {
		slog.Debug("File lock released", "workspace", fl.workspaceID, "held_duration_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.fileLock == nil || fl.acquiredAt.IsZero() {
		return 0
	}
	return time.Since(fl.acquiredAt)
}
