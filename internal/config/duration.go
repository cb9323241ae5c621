package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value, or defaultValue when value is blank. Timeouts and
// retry intervals are never negative, so a negative result is an error; zero is kept
// for callers that treat it as "no limit".
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	source := "value"
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		source = "default"
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %s %q: %w", source, candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s %q is negative", source, candidate)
	}
	return d, nil
}
