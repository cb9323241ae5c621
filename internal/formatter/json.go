package formatter

import (
	"encoding/json"

	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/store"
	"github.com/harunnryd/hibiki/internal/tool"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatTools(tools []tool.ToolDescriptor) (string, error) {
	return marshalJSON(nonNil(tools))
}

func (f *JSONFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	return marshalJSON(nonNil(sessions))
}

func (f *JSONFormatter) FormatTranscript(messages []contract.Message) (string, error) {
	return marshalJSON(nonNil(messages))
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// nonNil renders empty listings as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
