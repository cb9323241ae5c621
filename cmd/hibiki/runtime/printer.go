package runtime

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/harunnryd/hibiki/internal/conversation"
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/formatter"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/stream"
)

const noticePayloadMax = 80

// Printer streams a run to a terminal: content as it arrives, one line per tool call and result.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	midLine bool
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) OnContentDelta(delta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, delta)
	p.midLine = delta != "" && delta[len(delta)-1] != '\n'
}

func (p *Printer) OnToolCall(call contract.ToolCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	fmt.Fprintf(p.w, "→ %s(%s)\n", call.Name, call.Arguments)
}

func (p *Printer) OnToolResult(res dispatch.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	mark := "✓"
	if !res.OK() {
		mark = "✗"
	}
	fmt.Fprintf(p.w, "%s %s [%s] %s\n", mark, res.FunctionName, res.Duration.Round(time.Millisecond), formatter.Truncate(res.Payload, noticePayloadMax))
}

func (p *Printer) OnTerminal(outcome conversation.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch outcome.Reason {
	case conversation.ReasonLength:
		fmt.Fprint(p.w, stream.TruncatedMarker)
		p.midLine = true
	case conversation.ReasonContentFilter:
		fmt.Fprint(p.w, stream.FilteredMarker)
		p.midLine = true
	}
	p.breakLine()
}

func (p *Printer) breakLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}
