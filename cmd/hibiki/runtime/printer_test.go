package runtime

import (
	"bytes"
	"testing"
	"time"

	"github.com/harunnryd/hibiki/internal/conversation"
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/stream"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_StreamsAndNotifies(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OnContentDelta("Let me check")
	p.OnToolCall(contract.ToolCall{ID: "c1", Name: "get_weather", Arguments: `{"city":"Oslo"}`})
	p.OnToolResult(dispatch.Result{
		Status:       contract.ToolStatusOK,
		FunctionName: "get_weather",
		Payload:      `{"temp_c":4}`,
		Duration:     1234 * time.Microsecond,
	})
	p.OnContentDelta("It is 4C.")
	p.OnTerminal(conversation.Outcome{State: conversation.StateDone, Reason: conversation.ReasonStop})

	assert.Equal(t, "Let me check\n"+
		"→ get_weather({\"city\":\"Oslo\"})\n"+
		"✓ get_weather [1ms] {\"temp_c\":4}\n"+
		"It is 4C.\n", buf.String())
}

func TestPrinter_ErrorResult(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OnToolResult(dispatch.Result{Status: contract.ToolStatusError, FunctionName: "nope", Payload: `{"error":"unknown tool"}`})
	assert.Contains(t, buf.String(), "✗ nope")
}

func TestPrinter_Markers(t *testing.T) {
	tests := []struct {
		reason conversation.Reason
		want   string
	}{
		{reason: conversation.ReasonLength, want: "partial" + stream.TruncatedMarker + "\n"},
		{reason: conversation.ReasonContentFilter, want: "partial" + stream.FilteredMarker + "\n"},
		{reason: conversation.ReasonStop, want: "partial\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			var buf bytes.Buffer
			p := NewPrinter(&buf)
			p.OnContentDelta("partial")
			p.OnTerminal(conversation.Outcome{State: conversation.StateDone, Reason: tt.reason})
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
