package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/hibiki/internal/concurrency"
	"github.com/harunnryd/hibiki/internal/conversation"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

// Store persists transcripts. *store.Worker satisfies it.
type Store interface {
	AppendMessage(sessionID string, msg contract.Message) error
	ReadTranscript(sessionID string, limit int) ([]contract.Message, error)
	ResetSession(sessionID string) error
}

type Options struct {
	SystemPrompt string
}

// Manager owns the live conversations. Runs on the same session are serialized;
// different sessions proceed in parallel and share only the engine.
type Manager struct {
	engine *conversation.Engine
	store  Store
	opts   Options
	locks  *concurrency.KeyedLocker

	mu    sync.Mutex
	convs map[string]*conversation.Conversation
}

// NewManager builds a manager. A nil store keeps conversations in memory only.
func NewManager(engine *conversation.Engine, store Store, opts Options) *Manager {
	return &Manager{
		engine: engine,
		store:  store,
		opts:   opts,
		locks:  concurrency.NewKeyedLocker(),
		convs:  make(map[string]*conversation.Conversation),
	}
}

// Run sends input on sessionID and drives the engine to an outcome. obs may be nil.
func (m *Manager) Run(ctx context.Context, sessionID, input string, obs conversation.Observer) (conversation.Outcome, error) {
	if sessionID == "" {
		return conversation.Outcome{}, hibikiErrors.InvalidInput("session id is required")
	}

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	ctx = logger.WithSessionID(ctx, sessionID)
	if logger.GetTraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, ulid.Make().String())
	}

	conv, err := m.conversation(sessionID)
	if err != nil {
		return conversation.Outcome{}, err
	}

	engine := m.engine
	if obs != nil {
		engine = engine.WithObserver(obs)
	}

	slog.Debug("Run started", logger.Attrs(ctx)...)
	return engine.Run(ctx, conv, input)
}

// Conversation returns the live conversation for sessionID, restoring it from the store on first use.
func (m *Manager) Conversation(sessionID string) (*conversation.Conversation, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.conversation(sessionID)
}

func (m *Manager) conversation(sessionID string) (*conversation.Conversation, error) {
	m.mu.Lock()
	conv, ok := m.convs[sessionID]
	m.mu.Unlock()
	if ok {
		return conv, nil
	}

	opts := []conversation.Option{conversation.WithSystemPrompt(m.opts.SystemPrompt)}
	if m.store != nil {
		history, err := m.store.ReadTranscript(sessionID, 0)
		if err != nil {
			return nil, hibikiErrors.Wrap(err, "restore session "+sessionID)
		}
		if len(history) > 0 {
			slog.Debug("Session restored", "session_id", sessionID, "messages", len(history))
		}
		opts = append(opts, conversation.WithHistory(history), conversation.WithSink(storeSink{store: m.store, sessionID: sessionID}))
	}

	conv = conversation.New(sessionID, opts...)
	m.mu.Lock()
	m.convs[sessionID] = conv
	m.mu.Unlock()
	return conv, nil
}

// History returns up to n of the session's most recent messages (all when n <= 0).
func (m *Manager) History(sessionID string, n int) ([]contract.Message, error) {
	conv, err := m.Conversation(sessionID)
	if err != nil {
		return nil, err
	}
	return conv.Tail(n), nil
}

// Reset drops the session's transcript and live state. The next run starts fresh.
func (m *Manager) Reset(sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	if m.store != nil {
		if err := m.store.ResetSession(sessionID); err != nil {
			return hibikiErrors.Wrap(err, "reset session "+sessionID)
		}
	}

	m.mu.Lock()
	delete(m.convs, sessionID)
	m.mu.Unlock()
	return nil
}

type storeSink struct {
	store     Store
	sessionID string
}

func (s storeSink) Record(msg contract.Message) error {
	return s.store.AppendMessage(s.sessionID, msg)
}
