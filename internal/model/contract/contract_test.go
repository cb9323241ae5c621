package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMessage_JSONOmitsToolFieldsOnPlainMessages(t *testing.T) {
	data, err := json.Marshal(Message{ID: "01", Role: RoleAssistant, Content: "Hello", Ordinal: 2})
	require.NoError(t, err)

	assert.NotContains(t, string(data), `"call"`)
	assert.NotContains(t, string(data), `"status"`)
	assert.Contains(t, string(data), `"role":"assistant"`)
}

func TestChunk_DecodesFromYAMLScript(t *testing.T) {
	src := `
- tool_calls:
    - name: get_weather
- tool_calls:
    - arguments: '{"city":'
- function_call:
    arguments: '"NYC"}'
  finish_reason: tool_calls
`
	var chunks []Chunk
	require.NoError(t, yaml.Unmarshal([]byte(src), &chunks))
	require.Len(t, chunks, 3)

	assert.Equal(t, "get_weather", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, `{"city":`, chunks[1].ToolCalls[0].Arguments)
	require.NotNil(t, chunks[2].FunctionCall)
	assert.Equal(t, `"NYC"}`, chunks[2].FunctionCall.Arguments)
	assert.Equal(t, "tool_calls", chunks[2].FinishReason)
}
