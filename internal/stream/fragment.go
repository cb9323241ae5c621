package stream

import (
	"slices"
	"strings"

	"github.com/harunnryd/hibiki/internal/model/contract"
)

// TerminalReason is the normalized end-of-turn signal carried by a fragment.
type TerminalReason string

const (
	TerminalNone          TerminalReason = ""
	TerminalStop          TerminalReason = "stop"
	TerminalToolCall      TerminalReason = "tool_call"
	TerminalLength        TerminalReason = "length"
	TerminalContentFilter TerminalReason = "content_filter"
	TerminalUnrecognized  TerminalReason = "unrecognized"
)

// Fragment is the classified view of one raw chunk. Each delta is independent and nil when absent.
type Fragment struct {
	ContentDelta  *string
	CallIDDelta   *string
	CallNameDelta *string
	CallArgsDelta *string
	Terminal      TerminalReason
	// CallIndexes lists the distinct tool-call indexes the chunk carried, in arrival order.
	CallIndexes []int
	// RawTerminal keeps the provider's finish reason for logging.
	RawTerminal string
}

// IsEmpty reports whether the fragment carries nothing at all.
func (f Fragment) IsEmpty() bool {
	return f.ContentDelta == nil && f.CallIDDelta == nil && f.CallNameDelta == nil &&
		f.CallArgsDelta == nil && f.Terminal == TerminalNone
}

var terminalAliases = map[string]TerminalReason{
	"":                   TerminalNone,
	"null":               TerminalNone,
	"stop":               TerminalStop,
	"end_turn":           TerminalStop,
	"stop_sequence":      TerminalStop,
	"function_call":      TerminalToolCall,
	"tool_calls":         TerminalToolCall,
	"tool_use":           TerminalToolCall,
	"length":             TerminalLength,
	"max_tokens":         TerminalLength,
	"content_filter":     TerminalContentFilter,
	"refusal":            TerminalContentFilter,
	"safety":             TerminalContentFilter,
	"recitation":         TerminalContentFilter,
	"prohibited_content": TerminalContentFilter,
	"blocklist":          TerminalContentFilter,
	"spii":               TerminalContentFilter,
}

// ParseTerminal maps a provider finish reason onto a TerminalReason. Matching ignores case.
func ParseTerminal(raw string) TerminalReason {
	if reason, ok := terminalAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return reason
	}
	return TerminalUnrecognized
}

// Classify decodes a raw chunk into a Fragment.
// Several tool-call deltas for the same index fold to the last non-empty name and ID
// and the in-order concatenation of their argument pieces. Deltas for different
// indexes are recorded in CallIndexes so the Accumulator can reject them.
func Classify(raw contract.Chunk) Fragment {
	var f Fragment

	if raw.Content != "" {
		f.ContentDelta = ptr(raw.Content)
	}

	var args strings.Builder
	hasArgs := false
	absorb := func(id, name, arguments string) {
		if id != "" {
			f.CallIDDelta = ptr(id)
		}
		if name != "" {
			f.CallNameDelta = ptr(name)
		}
		if arguments != "" {
			args.WriteString(arguments)
			hasArgs = true
		}
	}

	for _, tc := range raw.ToolCalls {
		if !slices.Contains(f.CallIndexes, tc.Index) {
			f.CallIndexes = append(f.CallIndexes, tc.Index)
		}
		absorb(tc.ID, tc.Name, tc.Arguments)
	}
	if raw.FunctionCall != nil {
		absorb("", raw.FunctionCall.Name, raw.FunctionCall.Arguments)
	}
	if hasArgs {
		f.CallArgsDelta = ptr(args.String())
	}

	f.Terminal = ParseTerminal(raw.FinishReason)
	if f.Terminal != TerminalNone {
		f.RawTerminal = raw.FinishReason
	}

	return f
}

func ptr(s string) *string {
	return &s
}
