package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	toolcore "github.com/harunnryd/hibiki/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin("time", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &TimeTool{Now: options.Now}, nil
	})
}

// TimeTool returns the current time in UTC, a fixed offset or an IANA zone.
type TimeTool struct {
	Now func() time.Time
}

func (t *TimeTool) Name() string {
	return "time"
}

func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally for a timezone or UTC offset."
}

func (t *TimeTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"time.query", "clock.now"},
		Risk:         toolcore.RiskLow,
	}
}

func (t *TimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone such as America/New_York (optional)",
			},
			"utc_offset": map[string]interface{}{
				"type":        "string",
				"description": "UTC offset like +07:00 (optional, ignored when timezone is set)",
			},
		},
	}
}

func (t *TimeTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Timezone  string `json:"timezone"`
		UTCOffset string `json:"utc_offset"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	current := now().UTC()

	if zone := strings.TrimSpace(args.Timezone); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", zone)
		}
		local := current.In(loc)
		return json.Marshal(map[string]string{
			"time":     local.Format(time.RFC3339),
			"timezone": loc.String(),
			"weekday":  local.Weekday().String(),
		})
	}

	offset := strings.TrimSpace(args.UTCOffset)
	label := "+00:00"
	if offset != "" {
		seconds, err := parseUTCOffset(offset)
		if err != nil {
			return nil, err
		}
		current = current.In(time.FixedZone(offset, seconds))
		label = offset
	}

	return json.Marshal(map[string]string{
		"time":       current.Format(time.RFC3339),
		"utc_offset": label,
		"weekday":    current.Weekday().String(),
	})
}

func parseUTCOffset(offset string) (int, error) {
	if len(offset) != 6 || offset[3] != ':' {
		return 0, fmt.Errorf("invalid utc_offset format")
	}
	if offset[0] != '+' && offset[0] != '-' {
		return 0, fmt.Errorf("invalid utc_offset sign")
	}
	for _, i := range []int{1, 2, 4, 5} {
		if offset[i] < '0' || offset[i] > '9' {
			return 0, fmt.Errorf("invalid utc_offset format")
		}
	}

	hours := int(offset[1]-'0')*10 + int(offset[2]-'0')
	minutes := int(offset[4]-'0')*10 + int(offset[5]-'0')
	if hours > 23 || minutes > 59 {
		return 0, fmt.Errorf("invalid utc_offset value")
	}

	totalSeconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		totalSeconds = -totalSeconds
	}
	return totalSeconds, nil
}
