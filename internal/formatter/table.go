package formatter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/hibiki/internal/model/contract"
	"github.com/harunnryd/hibiki/internal/store"
	"github.com/harunnryd/hibiki/internal/tool"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) FormatTools(tools []tool.ToolDescriptor) (string, error) {
	if len(tools) == 0 {
		return "No tools registered", nil
	}

	t := f.newTable("Name", "Arguments", "Source", "Risk", "Description")
	for _, d := range tools {
		t.Row(
			d.Definition.Name,
			Truncate(strings.Join(argumentNames(d.Definition.Parameters), ", "), 30),
			d.Metadata.Source,
			string(d.Metadata.Risk),
			Truncate(d.Definition.Description, 50),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatSessions(sessions []store.SessionMeta) (string, error) {
	if len(sessions) == 0 {
		return "No sessions found", nil
	}

	t := f.newTable("ID", "Title", "Messages", "Updated")
	for _, s := range sessions {
		t.Row(
			s.ID,
			Truncate(s.Title, 40),
			fmt.Sprintf("%d", s.MessageCount),
			s.UpdatedAt.Local().Format(time.DateTime),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatTranscript(messages []contract.Message) (string, error) {
	if len(messages) == 0 {
		return "Transcript is empty", nil
	}

	t := f.newTable("#", "Role", "Content")
	for _, m := range messages {
		content := m.Content
		if m.Call != nil {
			content = fmt.Sprintf("%s(%s) -> %s", m.Call.Name, m.Call.Arguments, m.Content)
		}
		t.Row(
			fmt.Sprintf("%d", m.Ordinal),
			roleLabel(m),
			Truncate(strings.Join(strings.Fields(content), " "), 70),
		)
	}
	return t.String(), nil
}

func roleLabel(m contract.Message) string {
	if m.Role == contract.RoleTool && m.Status == contract.ToolStatusError {
		return "tool (error)"
	}
	return string(m.Role)
}

// argumentNames lists schema properties, required ones marked with '*'.
func argumentNames(params map[string]interface{}) []string {
	props, _ := params["properties"].(map[string]interface{})
	required := map[string]bool{}
	switch req := params["required"].(type) {
	case []string:
		for _, name := range req {
			required[name] = true
		}
	case []interface{}:
		for _, name := range req {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Truncate shortens s to maxLen runes, ending in "...".
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
