package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sse(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpen_StreamsToolCallChunks(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		sse(w,
			`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"NYC\"}"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	}))
	defer server.Close()

	p := New("sk-test", server.URL, "gpt-test")
	st, err := p.Open(context.Background(), contract.CompletionRequest{
		Messages: []contract.Message{{Role: contract.RoleUser, Content: "weather?"}},
		Tools:    []contract.ToolDef{{Name: "get_weather", Description: "weather"}},
	})
	require.NoError(t, err)
	defer st.Close()

	var chunks []contract.Chunk
	for {
		c, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 4)
	assert.Equal(t, "get_weather", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, "call_1", chunks[0].ToolCalls[0].ID)
	assert.Equal(t, `{"city":`, chunks[1].ToolCalls[0].Arguments)
	assert.Equal(t, `"NYC"}`, chunks[2].ToolCalls[0].Arguments)
	assert.Equal(t, "tool_calls", chunks[3].FinishReason)

	assert.Equal(t, "gpt-test", captured["model"])
	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, false, captured["parallel_tool_calls"])
}

func TestOpen_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer server.Close()

	_, err := New("sk-test", server.URL, "gpt-test").Open(context.Background(), contract.CompletionRequest{})
	assert.ErrorContains(t, err, "openai stream failed")
}

func TestToMessages_ReplaysToolCalls(t *testing.T) {
	msgs := ToMessages([]contract.Message{
		{Role: contract.RoleSystem, Content: "sys"},
		{Role: contract.RoleUser, Content: "weather?"},
		{Role: contract.RoleTool, Content: `{"temp":72}`, Status: contract.ToolStatusOK,
			Call: &contract.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"NYC"}`}},
		{Role: contract.RoleAssistant, Content: "72F"},
	})

	require.Len(t, msgs, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, `{"city":"NYC"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "72F", msgs[4].Content)
}

func TestToMessages_SkipsEmptyAssistantMessages(t *testing.T) {
	msgs := ToMessages([]contract.Message{
		{Role: contract.RoleUser, Content: "hi"},
		{Role: contract.RoleAssistant, Content: ""},
		{Role: contract.RoleUser, Content: "again"},
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, "again", msgs[1].Content)
}

func TestToChunk(t *testing.T) {
	assert.Equal(t, contract.Chunk{}, ToChunk(openai.ChatCompletionStreamResponse{}))

	c := ToChunk(openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{
			Content:      "hi",
			FunctionCall: &openai.FunctionCall{Name: "time"},
		},
		FinishReason: openai.FinishReasonStop,
	}}})
	assert.Equal(t, "hi", c.Content)
	assert.Equal(t, "stop", c.FinishReason)
	require.NotNil(t, c.FunctionCall)
	assert.Equal(t, "time", c.FunctionCall.Name)
}

func TestToTools_DefaultsParameters(t *testing.T) {
	tools := ToTools([]contract.ToolDef{{Name: "time"}})
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.NotNil(t, tools[0].Function.Parameters)
	assert.Nil(t, ToTools(nil))
}
