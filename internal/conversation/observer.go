package conversation

import (
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

// Observer is notified as a run progresses. Callbacks run on the engine goroutine
// and must not block for long.
type Observer interface {
	OnContentDelta(delta string)
	OnToolCall(call contract.ToolCall)
	OnToolResult(result dispatch.Result)
	OnTerminal(outcome Outcome)
}

// NopObserver ignores every event. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnContentDelta(string)        {}
func (NopObserver) OnToolCall(contract.ToolCall) {}
func (NopObserver) OnToolResult(dispatch.Result) {}
func (NopObserver) OnTerminal(Outcome)           {}
