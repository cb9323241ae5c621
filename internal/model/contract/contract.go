package contract

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// Message is one immutable entry of a conversation.
// Call and Status are set only on tool messages; Call records the invocation that produced the result.
type Message struct {
	ID        string     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	Ordinal   int        `json:"ordinal" yaml:"ordinal"`
	Call      *ToolCall  `json:"call,omitempty" yaml:"call,omitempty"`
	Status    ToolStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []ToolDef `json:"tools,omitempty"`
}

type ToolDef struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// Chunk is one raw fragment of a streamed completion, normalized across providers.
type Chunk struct {
	Content      string             `json:"content,omitempty" yaml:"content,omitempty"`
	ToolCalls    []ToolCallDelta    `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	FunctionCall *FunctionCallDelta `json:"function_call,omitempty" yaml:"function_call,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
}

type ToolCallDelta struct {
	Index     int    `json:"index" yaml:"index"`
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// FunctionCallDelta is the single-call form some providers still emit.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}
