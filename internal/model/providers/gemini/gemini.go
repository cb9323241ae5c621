package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"

	"google.golang.org/genai"
)

const finishToolCalls = "tool_calls"

type Provider struct {
	client *genai.Client
	model  string
}

// New builds a Gemini API client. baseURL is optional and overrides the public endpoint.
func New(apiKey, baseURL, model string) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Open(ctx context.Context, req contract.CompletionRequest) (*Stream, error) {
	modelName := req.Model
	if p.model != "" {
		modelName = p.model
	}
	if modelName == "" {
		return nil, fmt.Errorf("gemini stream failed: model is required")
	}

	contents, cfg := ToContents(req)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, modelName, contents, cfg))
	return &Stream{ctx: ctx, next: next, stop: stop}, nil
}

// ToContents converts a completion request into Gemini contents and generation config.
// A tool message is replayed as the model's function call followed by the function response.
func ToContents(req contract.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	var system []*genai.Part

	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleSystem:
			system = append(system, &genai.Part{Text: m.Content})
		case contract.RoleAssistant:
			// Empty model turns are rejected by the API.
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		case contract.RoleTool:
			if m.Call == nil {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
				continue
			}
			contents = append(contents,
				&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
					ID:   m.Call.ID,
					Name: m.Call.Name,
					Args: argsMap(m.Call.Arguments),
				}}}},
				&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.Call.ID,
					Name:     m.Call.Name,
					Response: responseMap(m.Content, m.Status),
				}}}},
			)
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}

	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if t.Parameters != nil {
				b, _ := json.Marshal(t.Parameters)
				var schema genai.Schema
				if err := json.Unmarshal(b, &schema); err == nil {
					decl.Parameters = &schema
				}
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, cfg
}

func argsMap(arguments string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			slog.Debug("Replaying unparsable function call arguments as an empty object", "arguments", arguments, "error", err)
		}
	}
	return args
}

// responseMap wraps a tool payload in the object Gemini expects. Non-object payloads
// land under "output"; failures land under "error".
func responseMap(content string, status contract.ToolStatus) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		raw = content
	}
	if status == contract.ToolStatusError {
		return map[string]any{"error": raw}
	}
	return map[string]any{"output": raw}
}

// Stream pulls responses from the SDK's iterator. Gemini finishes tool turns with STOP,
// so the finish reason is rewritten once a function call has been seen.
// Gemini cannot disable parallel calls; only the first call of a turn is emitted.
type Stream struct {
	ctx     context.Context
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	sawCall bool
}

func (s *Stream) Recv() (contract.Chunk, error) {
	resp, err, ok := s.next()
	if !ok {
		return contract.Chunk{}, io.EOF
	}
	if err != nil {
		return contract.Chunk{}, err
	}
	return s.toChunk(resp), nil
}

func (s *Stream) Close() error {
	s.stop()
	return nil
}

func (s *Stream) toChunk(resp *genai.GenerateContentResponse) contract.Chunk {
	var chunk contract.Chunk
	if resp == nil || len(resp.Candidates) == 0 {
		return chunk
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				chunk.Content += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				if s.sawCall {
					s.dropCall(fc)
					continue
				}
				args, _ := json.Marshal(fc.Args)
				if fc.Args == nil {
					args = []byte("{}")
				}
				chunk.ToolCalls = append(chunk.ToolCalls, contract.ToolCallDelta{
					Index:     0,
					ID:        fc.ID,
					Name:      fc.Name,
					Arguments: string(args),
				})
				s.sawCall = true
			}
		}
	}

	if cand.FinishReason != "" {
		chunk.FinishReason = string(cand.FinishReason)
		if s.sawCall && cand.FinishReason == genai.FinishReasonStop {
			chunk.FinishReason = finishToolCalls
		}
	}
	return chunk
}

func (s *Stream) dropCall(fc *genai.FunctionCall) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	slog.Warn("Dropping parallel function call", append([]any{"tool", fc.Name, "call_id", fc.ID}, logger.Attrs(ctx)...)...)
}
