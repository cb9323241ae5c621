package conversation

import (
	"github.com/harunnryd/hibiki/internal/dispatch"
	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/stream"
)

// Folder turns resolved stream output and dispatch results into conversation messages.
type Folder struct {
	conv *Conversation
}

func NewFolder(conv *Conversation) *Folder {
	return &Folder{conv: conv}
}

// FoldContent appends the assistant message for a final resolution.
func (f *Folder) FoldContent(res *stream.Resolution) contract.Message {
	return f.conv.Append(contract.Message{
		Role:    contract.RoleAssistant,
		Content: res.Content,
	})
}

// FoldDispatch appends exactly one tool message for a dispatch result.
func (f *Folder) FoldDispatch(res dispatch.Result) contract.Message {
	return f.conv.Append(contract.Message{
		Role:    contract.RoleTool,
		Content: res.Payload,
		Status:  res.Status,
		Call: &contract.ToolCall{
			ID:        res.CallID,
			Name:      res.FunctionName,
			Arguments: res.Arguments,
		},
	})
}

// FoldUser appends a user message.
func (f *Folder) FoldUser(input string) contract.Message {
	return f.conv.Append(contract.Message{
		Role:    contract.RoleUser,
		Content: input,
	})
}
