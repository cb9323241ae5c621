package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/natefinch/atomic"
)

// ErrStopped is returned by requests sent after Stop.
var ErrStopped = errors.New("store worker stopped")

type Operation int

const (
	OpAppendMessage Operation = iota
	OpReadTranscript
	OpResetSession
	OpGetSession
	OpListSessions
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type AppendPayload struct {
	SessionID string
	Message   contract.Message
}

type ReadTranscriptPayload struct {
	SessionID string
	Limit     int // 0 = all
}

type SessionPayload struct {
	SessionID string
}

// Worker owns a workspace's transcripts and session index. All file access runs on a single
// goroutine fed by the inbox, so callers on any goroutine see writes in submission order.
type Worker struct {
	workspaceID              string
	basePath                 string
	sessionsDir              string
	inbox                    chan Request
	fileLock                 *FileLock
	quit                     chan struct{}
	stateMu                  sync.RWMutex
	stopped                  bool
	stopOnce                 sync.Once
	wg                       sync.WaitGroup
	sessionIndex             *SessionIndex
	running                  stdatomic.Bool
	transcriptRotateMaxBytes int64
	now                      func() time.Time
}

type RuntimeConfig struct {
	LockTimeout              time.Duration
	LockRetry                time.Duration
	LockMaxRetry             int
	InboxSize                int
	TranscriptRotateMaxBytes int64
}

// RuntimeConfigFrom parses the store section of the config.
func RuntimeConfigFrom(cfg config.StoreConfig) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock retry: %w", err)
	}
	return RuntimeConfig{
		LockTimeout:              lockTimeout,
		LockRetry:                lockRetry,
		LockMaxRetry:             cfg.LockMaxRetry,
		InboxSize:                cfg.InboxSize,
		TranscriptRotateMaxBytes: cfg.TranscriptRotateMaxBytes,
	}, nil
}

func NewWorker(ctx context.Context, workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}
	sessionsDir := filepath.Join(basePath, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", sessionsDir, err)
	}

	if runtimeCfg.LockTimeout <= 0 {
		runtimeCfg.LockTimeout, _ = config.DurationOrDefault("", config.DefaultStoreLockTimeout)
	}
	if runtimeCfg.LockRetry <= 0 {
		runtimeCfg.LockRetry, _ = config.DurationOrDefault("", config.DefaultStoreLockRetry)
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.TranscriptRotateMaxBytes <= 0 {
		runtimeCfg.TranscriptRotateMaxBytes = config.DefaultStoreTranscriptRotateMaxBytes
	}

	// File Lock (Single Instance per Workspace)
	fileLock, err := AcquireFileLock(ctx, workspaceID, basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	sessionIndex := &SessionIndex{Sessions: make(map[string]SessionMeta)}
	if data, err := os.ReadFile(indexPath(sessionsDir)); err == nil {
		if err := json.Unmarshal(data, sessionIndex); err != nil {
			slog.Warn("Failed to parse session index, starting fresh", "error", err)
		}
		if sessionIndex.Sessions == nil {
			sessionIndex.Sessions = make(map[string]SessionMeta)
		}
	}

	return &Worker{
		workspaceID:              workspaceID,
		basePath:                 basePath,
		sessionsDir:              sessionsDir,
		inbox:                    make(chan Request, runtimeCfg.InboxSize),
		fileLock:                 fileLock,
		quit:                     make(chan struct{}),
		sessionIndex:             sessionIndex,
		transcriptRotateMaxBytes: runtimeCfg.TranscriptRotateMaxBytes,
		now:                      time.Now,
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	w.running.Store(true)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Debug("Store worker started", "workspace", w.workspaceID)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			w.reply(req, w.handle(req))
		case <-w.quit:
			w.drain()
			slog.Debug("Store worker stopped", "workspace", w.workspaceID)
			return
		}
	}
}

// drain answers requests that were queued before quit was observed.
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.inbox:
			w.reply(req, w.handle(req))
		default:
			return
		}
	}
}

func (w *Worker) reply(req Request, err error) {
	if req.Result != nil {
		req.Result <- err
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpAppendMessage:
		p, ok := req.Payload.(AppendPayload)
		if !ok {
			return fmt.Errorf("invalid payload for AppendMessage")
		}
		return w.appendMessage(p.SessionID, p.Message)
	case OpReadTranscript:
		p, ok := req.Payload.(ReadTranscriptPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ReadTranscript")
		}
		msgs, err := w.readTranscript(p.SessionID, p.Limit)
		req.Response <- msgs
		return err
	case OpResetSession:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ResetSession")
		}
		return w.resetSession(p.SessionID)
	case OpGetSession:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetSession")
		}
		if sess, ok := w.sessionIndex.Sessions[p.SessionID]; ok {
			req.Response <- &sess
		} else {
			req.Response <- (*SessionMeta)(nil)
		}
		return nil
	case OpListSessions:
		req.Response <- w.listSessions()
		return nil
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) appendMessage(sessionID string, msg contract.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	path := transcriptPath(w.sessionsDir, sessionID)
	if err := w.checkAndRotate(sessionID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "session", sessionID, "error", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	meta, ok := w.sessionIndex.Sessions[sessionID]
	if !ok || meta.Status == SessionReset {
		meta = SessionMeta{ID: sessionID, Status: SessionActive, CreatedAt: w.now().UTC()}
	}
	if meta.Title == "" && msg.Role == contract.RoleUser {
		meta.Title = titleFrom(msg.Content)
	}
	meta.MessageCount++
	meta.LastOrdinal = msg.Ordinal
	meta.UpdatedAt = w.now().UTC()
	w.sessionIndex.Sessions[sessionID] = meta
	return w.saveSessionIndex()
}

func titleFrom(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxRunes-3]) + "..."
}

// readTranscript returns the last limit messages across rotated segments and the live file.
// Lines that fail to decode are skipped.
func (w *Worker) readTranscript(sessionID string, limit int) ([]contract.Message, error) {
	path := transcriptPath(w.sessionsDir, sessionID)
	segments, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		return nil, err
	}
	sort.Strings(segments)
	segments = append(segments, path)

	msgs := []contract.Message{}
	for _, segment := range segments {
		if err := decodeSegment(segment, &msgs); err != nil {
			return nil, err
		}
	}

	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:], nil
	}
	return msgs, nil
}

func decodeSegment(path string, out *[]contract.Message) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var msg contract.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("Skipping unreadable transcript line", "path", path, "line", line, "error", err)
			continue
		}
		*out = append(*out, msg)
	}
	return scanner.Err()
}

func (w *Worker) saveSessionIndex() error {
	data, err := json.MarshalIndent(w.sessionIndex, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(indexPath(w.sessionsDir), bytes.NewReader(data))
}

func (w *Worker) resetSession(sessionID string) error {
	path := transcriptPath(w.sessionsDir, sessionID)
	segments, _ := filepath.Glob(path + ".*.bak")
	for _, p := range append(segments, path) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	meta, ok := w.sessionIndex.Sessions[sessionID]
	if !ok {
		return nil
	}
	meta.Status = SessionReset
	meta.MessageCount = 0
	meta.UpdatedAt = w.now().UTC()
	w.sessionIndex.Sessions[sessionID] = meta
	return w.saveSessionIndex()
}

// listSessions returns active sessions, most recently updated first.
func (w *Worker) listSessions() []SessionMeta {
	out := make([]SessionMeta, 0, len(w.sessionIndex.Sessions))
	for _, meta := range w.sessionIndex.Sessions {
		if meta.Status == SessionReset {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (w *Worker) checkAndRotate(sessionID, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() < w.transcriptRotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "session", sessionID, "size", info.Size())

	// Nanosecond stamps keep rotated segments in lexical order.
	backupPath := fmt.Sprintf("%s.%s.bak", path, w.now().UTC().Format("20060102150405.000000000"))
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// Public API for other components

// send enqueues req and waits for its result. The read lock keeps Stop from closing quit
// while a request is being enqueued, so every accepted request is answered.
func (w *Worker) send(req Request) error {
	w.stateMu.RLock()
	if w.stopped || !w.running.Load() {
		w.stateMu.RUnlock()
		return ErrStopped
	}
	w.inbox <- req
	w.stateMu.RUnlock()
	return <-req.Result
}

// AppendMessage persists msg as the next transcript line of sessionID and updates the index.
func (w *Worker) AppendMessage(sessionID string, msg contract.Message) error {
	return w.send(Request{
		Op:      OpAppendMessage,
		Payload: AppendPayload{SessionID: sessionID, Message: msg},
		Result:  make(chan error, 1),
	})
}

// ReadTranscript returns the last limit messages of a session (all when limit is 0).
// A session with no transcript yields an empty slice.
func (w *Worker) ReadTranscript(sessionID string, limit int) ([]contract.Message, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpReadTranscript,
		Payload:  ReadTranscriptPayload{SessionID: sessionID, Limit: limit},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).([]contract.Message), nil
}

func (w *Worker) ResetSession(sessionID string) error {
	return w.send(Request{
		Op:      OpResetSession,
		Payload: SessionPayload{SessionID: sessionID},
		Result:  make(chan error, 1),
	})
}

// GetSession returns the index entry of a session, or a NotFound error.
func (w *Worker) GetSession(id string) (*SessionMeta, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpGetSession,
		Payload:  SessionPayload{SessionID: id},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	meta := (<-resp).(*SessionMeta)
	if meta == nil {
		return nil, hibikiErrors.NotFound(fmt.Sprintf("session %s", id))
	}
	return meta, nil
}

func (w *Worker) ListSessions() ([]SessionMeta, error) {
	resp := make(chan interface{}, 1)
	err := w.send(Request{
		Op:       OpListSessions,
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).([]SessionMeta), nil
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.stateMu.Lock()
		w.stopped = true
		w.stateMu.Unlock()

		close(w.quit)
		w.wg.Wait()
		w.fileLock.Unlock()
	})
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
