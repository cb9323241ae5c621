package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

// Sink receives every message appended to a conversation, in order.
type Sink interface {
	Record(msg contract.Message) error
}

type Option func(*Conversation)

// WithSink forwards appended messages to s. Sink failures are logged, never returned.
func WithSink(s Sink) Option {
	return func(c *Conversation) { c.sink = s }
}

// WithSystemPrompt seeds the conversation with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(c *Conversation) { c.systemPrompt = prompt }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// WithIDFunc overrides message ID generation.
func WithIDFunc(next func() string) Option {
	return func(c *Conversation) { c.nextID = next }
}

// WithHistory restores previously recorded messages without re-sending them to the sink.
func WithHistory(messages []contract.Message) Option {
	return func(c *Conversation) { c.messages = append(c.messages, messages...) }
}

// Conversation is an append-only, ordinal-stamped message log.
// A single writer appends; any number of readers may take snapshots.
type Conversation struct {
	mu           sync.RWMutex
	id           string
	messages     []contract.Message
	sink         Sink
	systemPrompt string
	now          func() time.Time
	nextID       func() string
}

func New(id string, opts ...Option) *Conversation {
	c := &Conversation{
		id:     id,
		now:    time.Now,
		nextID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.systemPrompt != "" && len(c.messages) == 0 {
		c.Append(contract.Message{Role: contract.RoleSystem, Content: c.systemPrompt})
	}
	return c
}

func (c *Conversation) ID() string {
	return c.id
}

// Append stamps msg with an ID, ordinal and timestamp, stores it and returns the stored copy.
// Ordinals continue from the last message, so a restored history keeps its numbering.
func (c *Conversation) Append(msg contract.Message) contract.Message {
	c.mu.Lock()
	msg.ID = c.nextID()
	msg.Ordinal = 0
	if n := len(c.messages); n > 0 {
		msg.Ordinal = c.messages[n-1].Ordinal + 1
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now().UTC()
	}
	if msg.Call != nil {
		call := *msg.Call
		msg.Call = &call
	}
	c.messages = append(c.messages, msg)
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.Record(msg); err != nil {
			slog.Warn("Failed to record message", "conversation", c.id, "ordinal", msg.Ordinal, "error", err)
		}
	}
	return msg
}

// Snapshot returns a copy of the log.
func (c *Conversation) Snapshot() []contract.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]contract.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (contract.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return contract.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Tail returns up to n of the most recent messages.
func (c *Conversation) Tail(n int) []contract.Message {
	all := c.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
