package tool

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// BuiltinOptions carries runtime dependencies needed by built-in tool factories.
type BuiltinOptions struct {
	WeatherBaseURL string
	WeatherTimeout time.Duration
	// Rand drives dice rolls; nil means a time-seeded source.
	Rand *rand.Rand
	// Now overrides the clock for the time tool.
	Now func() time.Time
}

const DefaultBuiltinHTTPTimeout = 10 * time.Second

type BuiltinFactory func(options BuiltinOptions) (Tool, error)

var builtinCatalog = struct {
	mu        sync.RWMutex
	factories map[string]BuiltinFactory
}{
	factories: map[string]BuiltinFactory{},
}

// RegisterBuiltin registers a built-in tool factory under a tool name.
// Intended to be called in init() from built-in tool files.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		panic("tool: built-in name cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("tool: built-in factory cannot be nil (%s)", normalized))
	}

	builtinCatalog.mu.Lock()
	defer builtinCatalog.mu.Unlock()

	if _, exists := builtinCatalog.factories[normalized]; exists {
		panic(fmt.Sprintf("tool: built-in already registered: %s", normalized))
	}
	builtinCatalog.factories[normalized] = factory
}

// BuiltinNames returns all registered built-in names in deterministic order.
func BuiltinNames() []string {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(builtinCatalog.factories))
	for name := range builtinCatalog.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstantiateBuiltins constructs all built-in tools using their registered factories.
func InstantiateBuiltins(options BuiltinOptions) ([]Tool, error) {
	builtinCatalog.mu.RLock()
	factories := make(map[string]BuiltinFactory, len(builtinCatalog.factories))
	for name, factory := range builtinCatalog.factories {
		factories[name] = factory
	}
	builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := factories[name](options)
		if err != nil {
			return nil, fmt.Errorf("instantiate built-in %q: %w", name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}

// NewBuiltinRegistry registers every built-in plus extra and seals the result.
func NewBuiltinRegistry(options BuiltinOptions, extra ...Tool) (*Registry, error) {
	builtins, err := InstantiateBuiltins(options)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, t := range append(builtins, extra...) {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}
