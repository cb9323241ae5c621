package formatter

import (
	"strings"

	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/store"
	"github.com/harunnryd/hibiki/internal/tool"

	"gopkg.in/yaml.v3"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatTools(tools []tool.ToolDescriptor) (string, error) {
	return marshalYAML(nonNil(tools))
}

func (f *YAMLFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	return marshalYAML(nonNil(sessions))
}

func (f *YAMLFormatter) FormatTranscript(messages []contract.Message) (string, error) {
	return marshalYAML(nonNil(messages))
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
