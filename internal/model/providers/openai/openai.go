package openai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

// Provider streams chat completions from an OpenAI compatible endpoint (OpenAI, Ollama).
type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Provider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *Provider) Name() string {
	return "openai"
}

// Open starts one streamed completion. Tools are advertised with parallel calls disabled
// so each tool_calls finish carries exactly one call.
func (p *Provider) Open(ctx context.Context, req contract.CompletionRequest) (*Stream, error) {
	modelName := req.Model
	if p.model != "" {
		modelName = p.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: ToMessages(req.Messages),
		Tools:    ToTools(req.Tools),
	}
	if len(chatReq.Tools) > 0 {
		chatReq.ParallelToolCalls = false
	}

	st, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}
	return &Stream{stream: st}, nil
}

// ToMessages converts the conversation log. Each tool message is preceded by the assistant
// message that requested it, rebuilt from the recorded call.
func ToMessages(in []contract.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case contract.RoleTool:
			if m.Call == nil {
				messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
				continue
			}
			messages = append(messages,
				openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:   m.Call.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      m.Call.Name,
							Arguments: m.Call.Arguments,
						},
					}},
				},
				openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    m.Content,
					Name:       m.Call.Name,
					ToolCallID: m.Call.ID,
				},
			)
		case contract.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case contract.RoleAssistant:
			// An assistant message needs content or tool calls.
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		default:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return messages
}

func ToTools(defs []contract.ToolDef) []openai.Tool {
	var tools []openai.Tool
	for _, t := range defs {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// Stream adapts go-openai's stream to normalized chunks.
type Stream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next chunk. io.EOF from the SDK passes through unchanged.
func (s *Stream) Recv() (contract.Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return contract.Chunk{}, err
	}
	return ToChunk(resp), nil
}

func (s *Stream) Close() error {
	return s.stream.Close()
}

// ToChunk normalizes one SDK stream response. Usage-only responses carry no choices and map to an empty chunk.
func ToChunk(resp openai.ChatCompletionStreamResponse) contract.Chunk {
	if len(resp.Choices) == 0 {
		return contract.Chunk{}
	}
	choice := resp.Choices[0]

	chunk := contract.Chunk{
		Content:      choice.Delta.Content,
		FinishReason: string(choice.FinishReason),
	}
	if fc := choice.Delta.FunctionCall; fc != nil {
		chunk.FunctionCall = &contract.FunctionCallDelta{Name: fc.Name, Arguments: fc.Arguments}
	}
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, contract.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return chunk
}
