package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"
	anthropicProvider "github.com/harunnryd/hibiki/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/hibiki/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/hibiki/internal/model/providers/openai"
	replayProvider "github.com/harunnryd/hibiki/internal/model/providers/replay"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// Router resolves model names to transports. It is itself a Transport: Open routes on
// req.Model, falling back to the configured fallback model when the first open fails.
type Router struct {
	cfg        config.ModelsConfig
	transports map[string]Transport
	mu         sync.RWMutex
}

// NewRouter creates transports for every registry entry. Entries that cannot be built are
// logged and skipped; an error is returned only when none could be built.
func NewRouter(cfg config.ModelsConfig) (*Router, error) {
	router := &Router{
		cfg:        cfg,
		transports: make(map[string]Transport),
	}

	for _, entry := range cfg.Registry {
		transport, err := createTransport(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}
		router.transports[entry.Name] = transport
		slog.Debug("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(router.transports) == 0 && len(cfg.Registry) > 0 {
		return nil, hibikiErrors.Internal("no providers initialized")
	}

	return router, nil
}

// Register adds or replaces the transport for name.
func (r *Router) Register(name string, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = transport
}

// ListModels returns the registered model names in sorted order.
func (r *Router) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.transports))
	for name := range r.transports {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.transports[name]
	return ok
}

func (r *Router) Open(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = r.cfg.Default
	}
	attrs := append([]any{"model", modelName}, logger.Attrs(ctx)...)

	transport, ok := r.lookup(modelName)
	if ok {
		req.Model = modelName
		st, err := transport.Open(ctx, req)
		if err == nil {
			return st, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !r.canFallback(modelName) {
			return nil, hibikiErrors.Transport(fmt.Sprintf("open stream for model %s", modelName), err)
		}
		slog.Warn("Open failed, attempting fallback", append(attrs, "fallback", r.cfg.Fallback, "error", err)...)
	} else {
		if !r.canFallback(modelName) {
			return nil, hibikiErrors.NotFound(fmt.Sprintf("model %s not found", modelName))
		}
		slog.Warn("Model not found, using fallback", append(attrs, "fallback", r.cfg.Fallback)...)
	}

	fallback, ok := r.lookup(r.cfg.Fallback)
	if !ok {
		return nil, hibikiErrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
	}
	req.Model = r.cfg.Fallback
	st, err := fallback.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, hibikiErrors.Transport(fmt.Sprintf("open stream for fallback model %s", r.cfg.Fallback), err)
	}
	return st, nil
}

func (r *Router) lookup(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

func (r *Router) canFallback(modelName string) bool {
	return r.cfg.Fallback != "" && r.cfg.Fallback != modelName
}

// adapt lifts a provider's concrete Open method into a Transport.
func adapt[S ChunkStream](open func(context.Context, contract.CompletionRequest) (S, error)) Transport {
	return TransportFunc(func(ctx context.Context, req contract.CompletionRequest) (ChunkStream, error) {
		st, err := open(ctx, req)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}

func createTransport(entry config.ModelRegistry) (Transport, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for OpenAI provider")
		}
		return adapt(openaiProvider.New(entry.APIKey, baseURL, entry.UpstreamModel()).Open), nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}
		return adapt(openaiProvider.New(apiKey, baseURL, entry.UpstreamModel()).Open), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for Anthropic provider")
		}
		var opts []option.RequestOption
		if entry.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(entry.BaseURL))
		}
		maxTokens := entry.MaxTokens
		if maxTokens <= 0 {
			maxTokens = config.DefaultAnthropicMaxTokens
		}
		return adapt(anthropicProvider.New(entry.APIKey, entry.UpstreamModel(), maxTokens, opts...).Open), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for Gemini provider")
		}
		provider, err := geminiProvider.New(entry.APIKey, entry.BaseURL, entry.UpstreamModel())
		if err != nil {
			return nil, hibikiErrors.WrapWithCategory(err, "failed to create Gemini provider", hibikiErrors.ErrInternal)
		}
		return adapt(provider.Open), nil

	case "replay":
		if entry.Script == "" {
			return nil, hibikiErrors.InvalidInput(fmt.Sprintf("script required for replay model %s", entry.Name))
		}
		script, err := replayProvider.Load(entry.Script)
		if err != nil {
			return nil, hibikiErrors.WrapWithCategory(err, "failed to load replay script", hibikiErrors.ErrInvalidInput)
		}
		return adapt(replayProvider.New(script).Open), nil

	default:
		return nil, hibikiErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
