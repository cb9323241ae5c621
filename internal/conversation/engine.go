package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/dispatch"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/stream"

	"github.com/oklog/ulid/v2"
)

type State string

const (
	StateStreaming   State = "streaming"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
)

type Reason string

const (
	ReasonStop            Reason = "stop"
	ReasonLength          Reason = "length"
	ReasonContentFilter   Reason = "content_filter"
	ReasonMaxTurns        Reason = "max_turns"
	ReasonTransportError  Reason = "transport_error"
	ReasonMalformedStream Reason = "malformed_stream"
	ReasonCancelled       Reason = "cancelled"
)

// Outcome describes how a run ended. Message is the final assistant message when one was folded.
type Outcome struct {
	State   State
	Reason  Reason
	Turns   int
	Message *contract.Message
}

// Dispatcher runs one resolved tool call.
type Dispatcher interface {
	Invoke(ctx context.Context, call contract.ToolCall) (dispatch.Result, error)
}

type EngineOptions struct {
	Model    string
	MaxTurns int
	// HistoryLimit caps the non-system messages sent per turn. Zero sends the whole log.
	HistoryLimit int
	Tools        []contract.ToolDef
	Observer     Observer
}

// Engine drives the stream, dispatch and fold loop for one conversation at a time.
// It holds no per-conversation state, so one Engine may serve many conversations concurrently.
type Engine struct {
	transport  model.Transport
	dispatcher Dispatcher
	opts       EngineOptions
}

func NewEngine(transport model.Transport, dispatcher Dispatcher, opts EngineOptions) *Engine {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = config.DefaultEngineMaxTurns
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Engine{
		transport:  transport,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// WithObserver returns a copy of the engine reporting to obs.
func (e *Engine) WithObserver(obs Observer) *Engine {
	clone := *e
	if obs == nil {
		obs = NopObserver{}
	}
	clone.opts.Observer = obs
	return &clone
}

// Run appends userInput (when non-empty) and streams until a final message, a failure or max turns.
// Each tool_call terminal dispatches exactly one call, folds one tool message and re-enters streaming.
func (e *Engine) Run(ctx context.Context, conv *Conversation, userInput string) (Outcome, error) {
	folder := NewFolder(conv)
	if userInput != "" {
		folder.FoldUser(userInput)
	}

	acc := stream.NewAccumulator()
	outcome := Outcome{State: StateStreaming}

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, outcome, ReasonCancelled, nil), err
		}
		if outcome.Turns >= e.opts.MaxTurns {
			slog.Warn("Max turns reached", append([]any{"turns", outcome.Turns}, logger.Attrs(ctx)...)...)
			return e.finish(ctx, outcome, ReasonMaxTurns, nil),
				fmt.Errorf("stopped after %d turns: %w", outcome.Turns, hibikiErrors.ErrMaxTurns)
		}
		outcome.Turns++
		outcome.State = StateStreaming

		res, err := e.streamTurn(ctx, conv, acc)
		if err != nil {
			acc.Reset()
			return e.finish(ctx, outcome, failureReason(ctx, err), nil), err
		}

		if res.Kind == stream.ResolutionFinal {
			msg := folder.FoldContent(res)
			return e.finish(ctx, outcome, Reason(res.Reason), &msg), nil
		}

		outcome.State = StateDispatching
		call := res.Call
		if call.ID == "" {
			call.ID = "call_" + ulid.Make().String()
		}
		e.opts.Observer.OnToolCall(call)

		result, err := e.dispatcher.Invoke(ctx, call)
		if err != nil {
			acc.Reset()
			return e.finish(ctx, outcome, ReasonCancelled, nil), err
		}
		folder.FoldDispatch(result)
		e.opts.Observer.OnToolResult(result)
	}
}

// streamTurn consumes one stream until the accumulator resolves.
func (e *Engine) streamTurn(ctx context.Context, conv *Conversation, acc *stream.Accumulator) (*stream.Resolution, error) {
	req := contract.CompletionRequest{
		Model:    e.opts.Model,
		Messages: e.requestMessages(conv),
		Tools:    e.opts.Tools,
	}

	cs, err := e.transport.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, asTransport("open stream", err)
	}
	defer cs.Close()

	for {
		chunk, err := cs.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil, hibikiErrors.Transport("stream ended without a finish reason", nil)
			}
			return nil, asTransport("receive chunk", err)
		}

		fragment := stream.Classify(chunk)
		res, err := acc.Accept(fragment)
		if err != nil {
			return nil, err
		}
		if fragment.ContentDelta != nil {
			e.opts.Observer.OnContentDelta(*fragment.ContentDelta)
		}
		if res != nil {
			return res, nil
		}
		if fragment.Terminal == stream.TerminalUnrecognized {
			slog.Warn("Ignoring unrecognized finish reason", append([]any{"finish_reason", fragment.RawTerminal}, logger.Attrs(ctx)...)...)
		}
	}
}

// requestMessages keeps every system message plus the most recent HistoryLimit messages.
// Tool messages carry their call, so any cut point still replays cleanly.
func (e *Engine) requestMessages(conv *Conversation) []contract.Message {
	all := conv.Snapshot()
	limit := e.opts.HistoryLimit
	if limit <= 0 || len(all) <= limit {
		return all
	}

	cut := len(all) - limit
	out := make([]contract.Message, 0, limit+1)
	for _, m := range all[:cut] {
		if m.Role == contract.RoleSystem {
			out = append(out, m)
		}
	}
	return append(out, all[cut:]...)
}

func (e *Engine) finish(ctx context.Context, outcome Outcome, reason Reason, msg *contract.Message) Outcome {
	outcome.State = StateDone
	outcome.Reason = reason
	outcome.Message = msg

	slog.Debug("Run finished", append([]any{"reason", reason, "turns", outcome.Turns}, logger.Attrs(ctx)...)...)
	e.opts.Observer.OnTerminal(outcome)
	return outcome
}

func failureReason(ctx context.Context, err error) Reason {
	switch {
	case ctx.Err() != nil:
		return ReasonCancelled
	case errors.Is(err, hibikiErrors.ErrMalformedStream):
		return ReasonMalformedStream
	default:
		return ReasonTransportError
	}
}

func asTransport(message string, err error) error {
	if errors.Is(err, hibikiErrors.ErrTransport) {
		return err
	}
	return hibikiErrors.Transport(message, err)
}
