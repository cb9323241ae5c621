package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/harunnryd/hibiki/internal/formatter"
	"github.com/harunnryd/hibiki/internal/session"
	"github.com/harunnryd/hibiki/internal/tool"

	"github.com/google/shlex"
)

const defaultHistoryRows = 20

var errExit = errors.New("exit requested")

const replHelp = `Commands:
  /history [n]  show the last n messages (default 20)
  /reset        clear this session's history
  /tools        list available tools
  /help         show this help
  /exit, /quit  leave (or type exit / quit)`

// TurnContext derives the context for one turn. The stop func releases it.
type TurnContext func(parent context.Context) (context.Context, context.CancelFunc)

// InterruptTurn cancels only the in-flight turn on Ctrl+C.
func InterruptTurn(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

type REPL struct {
	sessions  *session.Manager
	registry  *tool.Registry
	sessionID string
	in        *bufio.Scanner
	out       io.Writer
	turnCtx   TurnContext
}

func NewREPL(components *RuntimeComponents, sessionID string, in io.Reader, out io.Writer) *REPL {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &REPL{
		sessions:  components.Sessions,
		registry:  components.ToolRegistry,
		sessionID: sessionID,
		in:        scanner,
		out:       out,
		turnCtx:   InterruptTurn,
	}
}

// WithTurnContext replaces how per-turn contexts are derived.
func (r *REPL) WithTurnContext(fn TurnContext) *REPL {
	r.turnCtx = fn
	return r
}

func (r *REPL) SessionID() string {
	return r.sessionID
}

// Start reads lines until EOF, an exit command, or ctx is done.
func (r *REPL) Start(ctx context.Context) error {
	fmt.Fprintf(r.out, "Hibiki session: %s\n", r.sessionID)
	fmt.Fprintln(r.out, "Type '/help' for commands, 'exit' to quit.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "You: ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}

		err := r.handleLine(ctx, r.in.Text())
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RunPrompts sends each prompt in order on the same session.
func (r *REPL) RunPrompts(ctx context.Context, prompts []string) error {
	for _, prompt := range prompts {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			continue
		}
		fmt.Fprintf(r.out, "You: %s\n", prompt)
		if err := r.Send(ctx, prompt); err != nil {
			return err
		}
	}
	return nil
}

func (r *REPL) handleLine(ctx context.Context, line string) error {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil
	}

	switch strings.ToLower(text) {
	case "exit", "quit":
		return errExit
	}

	if strings.HasPrefix(text, "/") {
		return r.handleCommand(text)
	}
	return r.Send(ctx, text)
}

// Send runs one turn and prints it. Turn failures are reported and leave the REPL usable;
// only cancellation of ctx itself is returned.
func (r *REPL) Send(ctx context.Context, text string) error {
	turnCtx, stop := r.turnCtx(ctx)
	defer stop()

	fmt.Fprint(r.out, "Assistant: ")
	outcome, err := r.sessions.Run(turnCtx, r.sessionID, text, NewPrinter(r.out))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(r.out, "\n(cancelled)")
		return nil
	}

	slog.Warn("Turn failed", "session_id", r.sessionID, "reason", outcome.Reason, "error", err)
	fmt.Fprintf(r.out, "\nerror: %v\n", err)
	return nil
}

func (r *REPL) handleCommand(text string) error {
	args, err := shlex.Split(text)
	if err != nil {
		fmt.Fprintf(r.out, "invalid command: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "/exit", "/quit":
		return errExit
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/reset":
		if err := r.sessions.Reset(r.sessionID); err != nil {
			fmt.Fprintf(r.out, "reset failed: %v\n", err)
			return nil
		}
		fmt.Fprintln(r.out, "Session history cleared.")
	case "/history":
		n := defaultHistoryRows
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil || parsed <= 0 {
				fmt.Fprintf(r.out, "usage: /history [n] (n must be a positive number)\n")
				return nil
			}
			n = parsed
		}
		return r.printHistory(n)
	case "/tools":
		out, err := formatter.NewTableFormatter().FormatTools(r.registry.Descriptors())
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, out)
	default:
		fmt.Fprintf(r.out, "unknown command %s, try /help\n", args[0])
	}
	return nil
}

func (r *REPL) printHistory(n int) error {
	messages, err := r.sessions.History(r.sessionID, n)
	if err != nil {
		fmt.Fprintf(r.out, "history unavailable: %v\n", err)
		return nil
	}
	if len(messages) == 0 {
		fmt.Fprintln(r.out, "No messages yet.")
		return nil
	}
	out, err := formatter.NewTableFormatter().FormatTranscript(messages)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, out)
	return nil
}
