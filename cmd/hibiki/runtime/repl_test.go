package runtime

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolScript = `
turns:
  - chunks:
      - content: "Rolling. "
      - tool_calls:
          - id: call_1
            name: roll_dice
      - tool_calls:
          - arguments: '{"notation":"1d1"}'
      - finish_reason: tool_calls
  - chunks:
      - content: "You rolled a 1."
      - finish_reason: stop
  - chunks:
      - content: "Bye."
      - finish_reason: stop
`

func plainTurn(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(parent)
}

func newTestREPL(t *testing.T, script, input string) (*REPL, *bytes.Buffer) {
	t.Helper()
	components, err := NewRuntimeComponents(context.Background(), testConfig(t, script), "repl")
	require.NoError(t, err)
	t.Cleanup(components.Stop)

	var out bytes.Buffer
	r := NewREPL(components, "repl-session", strings.NewReader(input), &out).WithTurnContext(plainTurn)
	return r, &out
}

func TestREPL_ConversationAndCommands(t *testing.T) {
	r, out := newTestREPL(t, toolScript, "roll a die\n\n/history 10\n/tools\n/bogus\nexit\nnever sent\n")

	require.NoError(t, r.Start(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Hibiki session: repl-session")
	assert.Contains(t, text, "Assistant: Rolling. \n→ roll_dice")
	assert.Contains(t, text, "✓ roll_dice")
	assert.Contains(t, text, "You rolled a 1.")
	assert.Contains(t, text, "get_weather")
	assert.Contains(t, text, "unknown command /bogus")
	assert.NotContains(t, text, "Bye.")
}

func TestREPL_SlashExitAndEOF(t *testing.T) {
	r, out := newTestREPL(t, greetingScript, "/quit\n")
	require.NoError(t, r.Start(context.Background()))
	assert.NotContains(t, out.String(), "Assistant:")

	r, _ = newTestREPL(t, greetingScript, "")
	assert.NoError(t, r.Start(context.Background()))
}

func TestREPL_ResetClearsHistory(t *testing.T) {
	r, out := newTestREPL(t, greetingScript, "hello\n/reset\n/history\n/history zero\n/exit\n")
	require.NoError(t, r.Start(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Hi there.")
	assert.Contains(t, text, "Session history cleared.")
	assert.Contains(t, text, "usage: /history [n]")

	history, err := r.sessions.History(r.SessionID(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "You are a test assistant.", history[0].Content)
}

func TestREPL_CancelledTurnKeepsREPLAlive(t *testing.T) {
	r, out := newTestREPL(t, greetingScript, "hello\nexit\n")
	r.WithTurnContext(func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, cancel
	})

	require.NoError(t, r.Start(context.Background()))
	assert.Contains(t, out.String(), "(cancelled)")
}

func TestREPL_RunPrompts(t *testing.T) {
	r, out := newTestREPL(t, toolScript, "")

	require.NoError(t, r.RunPrompts(context.Background(), []string{"roll a die", " ", "goodbye"}))

	text := out.String()
	assert.Contains(t, text, "You: roll a die")
	assert.Contains(t, text, "You rolled a 1.")
	assert.Contains(t, text, "You: goodbye")
	assert.Contains(t, text, "Bye.")

	history, err := r.sessions.History(r.SessionID(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 6)
}
