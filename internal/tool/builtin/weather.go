package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	toolcore "github.com/harunnryd/hibiki/internal/tool"

	"github.com/tidwall/gjson"
)

const (
	defaultWeatherBaseURL = "https://wttr.in"
	maxWeatherForecast    = 3
)

func init() {
	toolcore.RegisterBuiltin("get_weather", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		timeout := options.WeatherTimeout
		if timeout <= 0 {
			timeout = toolcore.DefaultBuiltinHTTPTimeout
		}

		baseURL := strings.TrimSpace(options.WeatherBaseURL)
		if baseURL == "" {
			baseURL = defaultWeatherBaseURL
		}

		return &WeatherTool{
			Client:  &http.Client{Timeout: timeout},
			BaseURL: baseURL,
		}, nil
	})
}

// WeatherTool reports current conditions for a city from a wttr.in compatible endpoint.
type WeatherTool struct {
	Client  *http.Client
	BaseURL string
}

type weatherArgs struct {
	City string `json:"city"`
	Days int    `json:"days"`
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather, and optionally a short forecast, for a city."
}

func (t *WeatherTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"weather.query", "http.get"},
		Risk:         toolcore.RiskMedium,
	}
}

func (t *WeatherTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{
				"type":        "string",
				"description": "City name, for example: NYC or San Francisco, CA",
			},
			"days": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"maximum":     maxWeatherForecast,
				"description": "Number of forecast days to include (0-3, default 0)",
			},
		},
		"required": []string{"city"},
	}
}

func (t *WeatherTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args weatherArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	city := strings.TrimSpace(args.City)
	if city == "" {
		return nil, fmt.Errorf("city is required")
	}

	body, err := t.fetch(ctx, city)
	if err != nil {
		return nil, err
	}

	current := gjson.GetBytes(body, "current_condition.0")
	if !current.Exists() {
		return nil, fmt.Errorf("weather response missing current condition")
	}

	result := map[string]interface{}{
		"city":      city,
		"location":  resolveLocation(body, city),
		"temp_c":    current.Get("temp_C").Int(),
		"temp_f":    current.Get("temp_F").Int(),
		"condition": strings.TrimSpace(current.Get("weatherDesc.0.value").String()),
		"humidity":  current.Get("humidity").Int(),
		"wind_kmph": current.Get("windspeedKmph").Int(),
	}

	days := args.Days
	if days > maxWeatherForecast {
		days = maxWeatherForecast
	}
	if days > 0 {
		forecast := make([]map[string]interface{}, 0, days)
		for _, day := range gjson.GetBytes(body, "weather").Array() {
			if len(forecast) == days {
				break
			}
			forecast = append(forecast, map[string]interface{}{
				"date":       day.Get("date").String(),
				"min_temp_c": day.Get("mintempC").Int(),
				"max_temp_c": day.Get("maxtempC").Int(),
				"condition":  strings.TrimSpace(day.Get("hourly.0.weatherDesc.0.value").String()),
			})
		}
		result["forecast"] = forecast
	}

	return json.Marshal(result)
}

func (t *WeatherTool) fetch(ctx context.Context, city string) ([]byte, error) {
	endpoint, err := weatherEndpoint(t.BaseURL, city)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "hibiki/1.0")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: toolcore.DefaultBuiltinHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("weather request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode weather response: invalid JSON")
	}
	return body, nil
}

func weatherEndpoint(baseURL string, city string) (string, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultWeatherBaseURL
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid weather endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return "", fmt.Errorf("invalid weather endpoint")
	}

	prefix := strings.TrimSuffix(parsed.EscapedPath(), "/")
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/" + city
	parsed.RawPath = prefix + "/" + url.PathEscape(city)
	q := parsed.Query()
	q.Set("format", "j1")
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

func resolveLocation(body []byte, fallback string) string {
	area := gjson.GetBytes(body, "nearest_area.0")
	if !area.Exists() {
		return fallback
	}

	parts := make([]string, 0, 3)
	for _, path := range []string{"areaName.0.value", "region.0.value", "country.0.value"} {
		if v := strings.TrimSpace(area.Get(path).String()); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, ", ")
}
