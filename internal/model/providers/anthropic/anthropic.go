package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/hibiki/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const defaultMaxTokens = 1024

type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func New(apiKey, model string, maxTokens int, opts ...option.RequestOption) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Provider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (p *Provider) Name() string {
	return "anthropic"
}

// Open starts one streamed message. The SDK defers connection errors to the first Next call,
// so they surface from Recv.
func (p *Provider) Open(ctx context.Context, req contract.CompletionRequest) (*Stream, error) {
	params := ToParams(req)
	if p.model != "" {
		params.Model = anthropic.Model(p.model)
	}
	if params.Model == "" {
		params.Model = anthropic.ModelClaude3_7SonnetLatest
	}
	params.MaxTokens = p.maxTokens

	return &Stream{stream: p.client.Messages.NewStreaming(ctx, params)}, nil
}

// ToParams converts a completion request. System messages move to the system prompt and every
// tool message is replayed as a tool_use block followed by its tool_result.
func ToParams(req contract.CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{Model: anthropic.Model(req.Model)}

	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case contract.RoleAssistant:
			// An empty text block is rejected by the API.
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case contract.RoleTool:
			if m.Call == nil {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
				continue
			}
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(m.Call.ID, toolInput(m.Call.Arguments), m.Call.Name)),
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.Call.ID, m.Content, m.Status == contract.ToolStatusError)),
			)
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]interface{}{}},
		}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"].(map[string]interface{}); ok {
				tool.InputSchema.Properties = props
			}
			tool.InputSchema.Required = requiredFields(t.Parameters["required"])
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{DisableParallelToolUse: anthropic.Bool(true)},
		}
	}

	return params
}

func toolInput(arguments string) any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}
	var input any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		slog.Debug("Replaying unparsable tool input as an empty object", "arguments", arguments, "error", err)
		return map[string]any{}
	}
	return input
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Stream adapts the SDK's server-sent event stream to normalized chunks.
type Stream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Recv returns the next chunk that carries content, call data or a stop reason.
// Bookkeeping events such as ping and message_start are skipped.
func (s *Stream) Recv() (contract.Chunk, error) {
	for s.stream.Next() {
		if chunk, ok := ToChunk(s.stream.Current()); ok {
			return chunk, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return contract.Chunk{}, err
	}
	return contract.Chunk{}, io.EOF
}

func (s *Stream) Close() error {
	return s.stream.Close()
}

// ToChunk normalizes one stream event. The second result is false for events with nothing to report.
func ToChunk(event anthropic.MessageStreamEventUnion) (contract.Chunk, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch ev.ContentBlock.Type {
		case "tool_use":
			return contract.Chunk{ToolCalls: []contract.ToolCallDelta{{
				Index: int(ev.Index),
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}}}, true
		case "text":
			if ev.ContentBlock.Text != "" {
				return contract.Chunk{Content: ev.ContentBlock.Text}, true
			}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return contract.Chunk{Content: d.Text}, d.Text != ""
		case anthropic.InputJSONDelta:
			return contract.Chunk{ToolCalls: []contract.ToolCallDelta{{
				Index:     int(ev.Index),
				Arguments: d.PartialJSON,
			}}}, d.PartialJSON != ""
		}
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			return contract.Chunk{FinishReason: string(ev.Delta.StopReason)}, true
		}
	}
	return contract.Chunk{}, false
}
