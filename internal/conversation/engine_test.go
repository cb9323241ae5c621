package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/hibiki/internal/dispatch"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedTransport serves one chunk script per Open call.
type scriptedTransport struct {
	mu       sync.Mutex
	turns    [][]contract.Chunk
	requests []contract.CompletionRequest
	openErr  error
}

func (s *scriptedTransport) Open(ctx context.Context, req contract.CompletionRequest) (model.ChunkStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	chunks := s.turns[0]
	s.turns = s.turns[1:]
	return &sliceStream{chunks: chunks}, nil
}

type sliceStream struct {
	chunks []contract.Chunk
	closed bool
}

func (s *sliceStream) Recv() (contract.Chunk, error) {
	if len(s.chunks) == 0 {
		return contract.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type countingTool struct {
	name  string
	calls atomic.Int32
	args  atomic.Value
	out   string
	err   error
}

func (c *countingTool) Name() string        { return c.name }
func (c *countingTool) Description() string { return "counting " + c.name }
func (c *countingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
	}
}
func (c *countingTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	c.calls.Add(1)
	c.args.Store(string(input))
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(c.out), nil
}

func newEngine(t *testing.T, transport model.Transport, maxTurns int, tools ...tool.Tool) *Engine {
	t.Helper()
	registry := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, registry.Register(tl))
	}
	registry.Seal()
	return NewEngine(transport, dispatch.NewExecutor(registry, dispatch.Options{Timeout: time.Second}), EngineOptions{
		Model:    "test-model",
		MaxTurns: maxTurns,
		Tools:    registry.Definitions(),
	})
}

func text(s string) contract.Chunk { return contract.Chunk{Content: s} }
func finish(reason string) contract.Chunk {
	return contract.Chunk{FinishReason: reason}
}
func callName(name string) contract.Chunk {
	return contract.Chunk{ToolCalls: []contract.ToolCallDelta{{Name: name}}}
}
func callArgs(args string) contract.Chunk {
	return contract.Chunk{ToolCalls: []contract.ToolCallDelta{{Arguments: args}}}
}

func roles(msgs []contract.Message) []contract.Role {
	out := make([]contract.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestRun_ContentThenStop(t *testing.T) {
	transport := &scriptedTransport{turns: [][]contract.Chunk{{text("Hel"), text("lo"), finish("stop")}}}
	engine := newEngine(t, transport, 4)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "hi")
	require.NoError(t, err)

	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, ReasonStop, outcome.Reason)
	assert.Equal(t, 1, outcome.Turns)
	require.NotNil(t, outcome.Message)
	assert.Equal(t, "Hello", outcome.Message.Content)

	msgs := conv.Snapshot()
	assert.Equal(t, []contract.Role{contract.RoleUser, contract.RoleAssistant}, roles(msgs))
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Equal(t, 1, msgs[1].Ordinal)
}

func TestRun_ToolCallReentersStreaming(t *testing.T) {
	weather := &countingTool{name: "get_weather", out: `{"temp":72}`}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callName("get_weather"), callArgs(`{"city":`), callArgs(`"NYC"}`), finish("tool_calls")},
		{text("It is 72F in NYC."), finish("stop")},
	}}
	engine := newEngine(t, transport, 4, weather)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "weather in NYC?")
	require.NoError(t, err)

	assert.Equal(t, int32(1), weather.calls.Load())
	assert.JSONEq(t, `{"city":"NYC"}`, weather.args.Load().(string))

	msgs := conv.Snapshot()
	require.Equal(t, []contract.Role{contract.RoleUser, contract.RoleTool, contract.RoleAssistant}, roles(msgs))
	toolMsg := msgs[1]
	assert.Equal(t, `{"temp":72}`, toolMsg.Content)
	assert.Equal(t, contract.ToolStatusOK, toolMsg.Status)
	require.NotNil(t, toolMsg.Call)
	assert.Equal(t, "get_weather", toolMsg.Call.Name)
	assert.Equal(t, `{"city":"NYC"}`, toolMsg.Call.Arguments)
	assert.NotEmpty(t, toolMsg.Call.ID)

	assert.Equal(t, 2, outcome.Turns)
	assert.Equal(t, ReasonStop, outcome.Reason)

	require.Len(t, transport.requests, 2)
	assert.Len(t, transport.requests[1].Messages, 2)
	assert.Equal(t, "test-model", transport.requests[0].Model)
	require.Len(t, transport.requests[0].Tools, 1)
}

func TestRun_UnknownToolFoldsError(t *testing.T) {
	other := &countingTool{name: "get_weather", out: `{}`}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callName("launch_rocket"), callArgs(`{}`), finish("function_call")},
		{text("Sorry, I cannot do that."), finish("stop")},
	}}
	engine := newEngine(t, transport, 4, other)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "launch")
	require.NoError(t, err)
	assert.Equal(t, ReasonStop, outcome.Reason)
	assert.Equal(t, int32(0), other.calls.Load())

	msgs := conv.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, contract.ToolStatusError, msgs[1].Status)
	assert.Contains(t, msgs[1].Content, "launch_rocket")
}

func TestRun_FailingHandlerDoesNotAbort(t *testing.T) {
	broken := &countingTool{name: "get_weather", err: errors.New("upstream 500")}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callName("get_weather"), callArgs(`{"city":"NYC"}`), finish("tool_calls")},
		{text("The weather service is down."), finish("stop")},
	}}
	engine := newEngine(t, transport, 4, broken)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "weather?")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)

	errorMessages := 0
	for _, m := range conv.Snapshot() {
		if m.Status == contract.ToolStatusError {
			errorMessages++
			assert.Contains(t, m.Content, "error executing function 'get_weather': upstream 500")
		}
	}
	assert.Equal(t, 1, errorMessages)
}

func TestRun_MalformedStream(t *testing.T) {
	weather := &countingTool{name: "get_weather", out: `{}`}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callArgs(`{"city":"NYC"}`), callName("get_weather"), finish("tool_calls")},
	}}
	engine := newEngine(t, transport, 4, weather)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "weather?")
	assert.ErrorIs(t, err, hibikiErrors.ErrMalformedStream)
	assert.Equal(t, ReasonMalformedStream, outcome.Reason)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, int32(0), weather.calls.Load())
	assert.Equal(t, []contract.Role{contract.RoleUser}, roles(conv.Snapshot()))
}

func TestRun_TransportErrors(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		transport := &scriptedTransport{openErr: errors.New("dial tcp: connection refused")}
		outcome, err := newEngine(t, transport, 4).Run(context.Background(), New("s1"), "hi")
		assert.ErrorIs(t, err, hibikiErrors.ErrTransport)
		assert.Equal(t, ReasonTransportError, outcome.Reason)
	})

	t.Run("eof without finish", func(t *testing.T) {
		transport := &scriptedTransport{turns: [][]contract.Chunk{{text("partial")}}}
		conv := New("s1")
		outcome, err := newEngine(t, transport, 4).Run(context.Background(), conv, "hi")
		assert.ErrorIs(t, err, hibikiErrors.ErrTransport)
		assert.Equal(t, ReasonTransportError, outcome.Reason)
		assert.Nil(t, outcome.Message)
		assert.Len(t, conv.Snapshot(), 1)
	})
}

func TestRun_MaxTurns(t *testing.T) {
	loop := &countingTool{name: "get_weather", out: `{}`}
	var turns [][]contract.Chunk
	for i := 0; i < 5; i++ {
		turns = append(turns, []contract.Chunk{callName("get_weather"), callArgs(`{}`), finish("tool_calls")})
	}
	transport := &scriptedTransport{turns: turns}
	conv := New("s1")

	outcome, err := newEngine(t, transport, 3, loop).Run(context.Background(), conv, "loop")
	assert.ErrorIs(t, err, hibikiErrors.ErrMaxTurns)
	assert.Equal(t, ReasonMaxTurns, outcome.Reason)
	assert.Equal(t, 3, outcome.Turns)
	assert.Equal(t, int32(3), loop.calls.Load())
}

func TestRun_UnrecognizedFinishIsIgnored(t *testing.T) {
	transport := &scriptedTransport{turns: [][]contract.Chunk{{text("a"), finish("pause_turn"), text("b"), finish("end_turn")}}}
	outcome, err := newEngine(t, transport, 4).Run(context.Background(), New("s1"), "hi")
	require.NoError(t, err)
	require.NotNil(t, outcome.Message)
	assert.Equal(t, "ab", outcome.Message.Content)
}

func TestRun_LengthAndFilterMarkers(t *testing.T) {
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{text("Once"), finish("length")},
		{finish("content_filter")},
	}}
	engine := newEngine(t, transport, 4)
	conv := New("s1")

	outcome, err := engine.Run(context.Background(), conv, "story")
	require.NoError(t, err)
	assert.Equal(t, ReasonLength, outcome.Reason)
	assert.Equal(t, "Once[Response truncated due to length limit]", outcome.Message.Content)

	outcome, err = engine.Run(context.Background(), conv, "again")
	require.NoError(t, err)
	assert.Equal(t, ReasonContentFilter, outcome.Reason)
	assert.Equal(t, "[Response was filtered due to content moderation]", outcome.Message.Content)
}

func TestRun_NarrationIsKeptAcrossToolCall(t *testing.T) {
	weather := &countingTool{name: "get_weather", out: `{"temp":72}`}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{text("Checking. "), callName("get_weather"), callArgs(`{"city":"NYC"}`), finish("tool_calls")},
		{text("72F."), finish("stop")},
	}}
	outcome, err := newEngine(t, transport, 4, weather).Run(context.Background(), New("s1"), "weather?")
	require.NoError(t, err)
	assert.Equal(t, "Checking. 72F.", outcome.Message.Content)
}

type recordingObserver struct {
	NopObserver
	deltas   []string
	calls    []string
	results  []contract.ToolStatus
	terminal []Reason
}

func (r *recordingObserver) OnContentDelta(delta string)       { r.deltas = append(r.deltas, delta) }
func (r *recordingObserver) OnToolCall(call contract.ToolCall) { r.calls = append(r.calls, call.Name) }
func (r *recordingObserver) OnToolResult(res dispatch.Result) {
	r.results = append(r.results, res.Status)
}
func (r *recordingObserver) OnTerminal(o Outcome) { r.terminal = append(r.terminal, o.Reason) }

func TestRun_ObserverSeesEvents(t *testing.T) {
	weather := &countingTool{name: "get_weather", out: `{"temp":72}`}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callName("get_weather"), callArgs(`{}`), finish("tool_calls")},
		{text("7"), text("2"), finish("stop")},
	}}
	obs := &recordingObserver{}
	engine := newEngine(t, transport, 4, weather).WithObserver(obs)

	_, err := engine.Run(context.Background(), New("s1"), "weather?")
	require.NoError(t, err)

	assert.Equal(t, []string{"7", "2"}, obs.deltas)
	assert.Equal(t, []string{"get_weather"}, obs.calls)
	assert.Equal(t, []contract.ToolStatus{contract.ToolStatusOK}, obs.results)
	assert.Equal(t, []Reason{ReasonStop}, obs.terminal)
}

func TestRun_ObserverSkipsRejectedChunk(t *testing.T) {
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{text("checking"), {Content: "lost", ToolCalls: []contract.ToolCallDelta{{Arguments: `{"city":"NYC"}`}}}, finish("tool_calls")},
	}}
	obs := &recordingObserver{}
	engine := newEngine(t, transport, 4).WithObserver(obs)

	_, err := engine.Run(context.Background(), New("s1"), "weather?")
	assert.ErrorIs(t, err, hibikiErrors.ErrMalformedStream)
	assert.Equal(t, []string{"checking"}, obs.deltas)
}

// blockingStream yields its chunks, then blocks until ctx is cancelled.
type blockingStream struct {
	ctx    context.Context
	chunks []contract.Chunk
}

func (b *blockingStream) Recv() (contract.Chunk, error) {
	if len(b.chunks) > 0 {
		c := b.chunks[0]
		b.chunks = b.chunks[1:]
		return c, nil
	}
	<-b.ctx.Done()
	return contract.Chunk{}, b.ctx.Err()
}

func (b *blockingStream) Close() error { return nil }

func TestRun_CancellationDiscardsPartialContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := model.TransportFunc(func(ctx context.Context, req contract.CompletionRequest) (model.ChunkStream, error) {
		return &blockingStream{ctx: ctx, chunks: []contract.Chunk{text("half an ans")}}, nil
	})

	obs := &recordingObserver{}
	engine := newEngine(t, transport, 4).WithObserver(obs)
	conv := New("s1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := engine.Run(ctx, conv, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReasonCancelled, outcome.Reason)
	assert.Nil(t, outcome.Message)
	assert.Equal(t, []contract.Role{contract.RoleUser}, roles(conv.Snapshot()))
	assert.Equal(t, []string{"half an ans"}, obs.deltas)
}

func TestRun_CancellationDuringToolCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := &blockingTool{started: make(chan struct{})}
	transport := &scriptedTransport{turns: [][]contract.Chunk{
		{callName("slow"), callArgs(`{}`), finish("tool_calls")},
	}}
	engine := newEngine(t, transport, 4, slow)
	conv := New("s1")

	go func() {
		<-slow.started
		cancel()
	}()

	outcome, err := engine.Run(ctx, conv, "go")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReasonCancelled, outcome.Reason)
	assert.Equal(t, []contract.Role{contract.RoleUser}, roles(conv.Snapshot()))
}

type blockingTool struct {
	started chan struct{}
}

func (b *blockingTool) Name() string                       { return "slow" }
func (b *blockingTool) Description() string                { return "blocks" }
func (b *blockingTool) Parameters() map[string]interface{} { return nil }
func (b *blockingTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_ReplayIsDeterministic(t *testing.T) {
	script := func() [][]contract.Chunk {
		return [][]contract.Chunk{
			{text("Let me look. "), callName("get_weather"), callArgs(`{"city":`), callArgs(`"NYC"}`), finish("tool_calls")},
			{text("72F"), finish("stop")},
		}
	}
	run := func() []byte {
		var n int
		conv := New("s1",
			WithClock(func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }),
			WithIDFunc(func() string { n++; return fmt.Sprintf("m%d", n) }),
		)
		weather := &countingTool{name: "get_weather", out: `{"temp":72}`}
		transport := &scriptedTransport{turns: script()}
		transport.turns[0][1].ToolCalls[0].ID = "call_fixed"

		_, err := newEngine(t, transport, 4, weather).Run(context.Background(), conv, "weather?")
		require.NoError(t, err)

		data, err := json.Marshal(conv.Snapshot())
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, string(run()), string(run()))
}

func TestRun_HistoryLimitKeepsSystemPrompt(t *testing.T) {
	transport := &scriptedTransport{turns: [][]contract.Chunk{{text("ok"), finish("stop")}}}
	registry := tool.NewRegistry()
	registry.Seal()
	engine := NewEngine(transport, dispatch.NewExecutor(registry, dispatch.Options{}), EngineOptions{HistoryLimit: 2})

	conv := New("s1", WithSystemPrompt("sys"))
	for _, content := range []string{"one", "two", "three"} {
		conv.Append(contract.Message{Role: contract.RoleUser, Content: content})
	}

	_, err := engine.Run(context.Background(), conv, "four")
	require.NoError(t, err)

	require.Len(t, transport.requests, 1)
	sent := transport.requests[0].Messages
	require.Len(t, sent, 3)
	assert.Equal(t, "sys", sent[0].Content)
	assert.Equal(t, "three", sent[1].Content)
	assert.Equal(t, "four", sent[2].Content)
}
