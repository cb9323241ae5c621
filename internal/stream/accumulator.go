package stream

import (
	"fmt"
	"strings"

	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

const (
	TruncatedMarker = "[Response truncated due to length limit]"
	FilteredMarker  = "[Response was filtered due to content moderation]"
)

type ResolutionKind string

const (
	// ResolutionToolCall asks the caller to dispatch Call and keep streaming.
	ResolutionToolCall ResolutionKind = "tool_call"
	// ResolutionFinal carries the assistant text that ends the turn.
	ResolutionFinal ResolutionKind = "final"
)

// Resolution is what a terminal fragment flushes out of the Accumulator.
type Resolution struct {
	Kind    ResolutionKind
	Reason  TerminalReason
	Content string
	Call    contract.ToolCall
}

// Accumulator buffers partial content and the pending tool call across fragments.
// It is owned by a single consumer and is not safe for concurrent use.
type Accumulator struct {
	content     []string
	pendingID   string
	pendingName *string
	pendingArgs []string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Accept applies one fragment. A non-nil Resolution is returned only for tool_call, stop,
// length and content_filter terminals. Unrecognized terminals are left to the caller to log.
func (a *Accumulator) Accept(f Fragment) (*Resolution, error) {
	if len(f.CallIndexes) > 1 {
		return nil, hibikiErrors.MalformedStream(fmt.Sprintf("one chunk carried %d parallel tool calls %v", len(f.CallIndexes), f.CallIndexes))
	}
	if f.ContentDelta != nil {
		a.content = append(a.content, *f.ContentDelta)
	}
	if f.CallIDDelta != nil && *f.CallIDDelta != "" {
		a.pendingID = *f.CallIDDelta
	}
	if f.CallNameDelta != nil && *f.CallNameDelta != "" {
		name := *f.CallNameDelta
		a.pendingName = &name
	}
	if f.CallArgsDelta != nil {
		if a.pendingName == nil {
			return nil, hibikiErrors.MalformedStream(fmt.Sprintf("arguments %q arrived before a function name", *f.CallArgsDelta))
		}
		a.pendingArgs = append(a.pendingArgs, *f.CallArgsDelta)
	}

	switch f.Terminal {
	case TerminalToolCall:
		if a.pendingName == nil {
			return nil, hibikiErrors.MalformedStream("tool_call finish without a function name")
		}
		res := &Resolution{
			Kind:   ResolutionToolCall,
			Reason: TerminalToolCall,
			Call: contract.ToolCall{
				ID:        a.pendingID,
				Name:      *a.pendingName,
				Arguments: a.JoinedArgs(),
			},
		}
		a.resetCall()
		return res, nil

	case TerminalStop:
		return a.flush(TerminalStop, ""), nil

	case TerminalLength:
		return a.flush(TerminalLength, TruncatedMarker), nil

	case TerminalContentFilter:
		return a.flush(TerminalContentFilter, FilteredMarker), nil

	default:
		return nil, nil
	}
}

func (a *Accumulator) flush(reason TerminalReason, marker string) *Resolution {
	if marker != "" {
		a.content = append(a.content, marker)
	}
	res := &Resolution{
		Kind:    ResolutionFinal,
		Reason:  reason,
		Content: a.JoinedContent(),
	}
	a.Reset()
	return res
}

// Reset drops every buffer.
func (a *Accumulator) Reset() {
	a.content = nil
	a.resetCall()
}

func (a *Accumulator) resetCall() {
	a.pendingID = ""
	a.pendingName = nil
	a.pendingArgs = nil
}

func (a *Accumulator) JoinedContent() string {
	return strings.Join(a.content, "")
}

func (a *Accumulator) JoinedArgs() string {
	return strings.Join(a.pendingArgs, "")
}

// PendingName returns the function name awaiting dispatch, if any.
func (a *Accumulator) PendingName() (string, bool) {
	if a.pendingName == nil {
		return "", false
	}
	return *a.pendingName, true
}
