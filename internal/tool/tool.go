package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/model/contract"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool represents a locally executable function the model may call.
// Execute receives the raw JSON arguments and returns a JSON result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
	meta   ToolMetadata
}

// Registry maps tool names to tools. Registration happens once at startup;
// after Seal the table is read-only and lookups take no lock.
type Registry struct {
	mu     sync.RWMutex
	sealed atomic.Bool
	tools  map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registered),
	}
}

// Register adds t. Names are unique after normalization.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return hibikiErrors.InvalidInput("tool is nil")
	}
	name := NormalizeToolName(t.Name())
	if name == "" {
		return hibikiErrors.InvalidInput("tool name is empty")
	}

	schema, err := CompileSchema(name, t.Parameters())
	if err != nil {
		return hibikiErrors.InvalidInput(fmt.Sprintf("tool %q: %v", name, err))
	}

	meta := normalizeToolMetadata(ToolMetadata{})
	if provider, ok := t.(MetadataProvider); ok {
		meta = normalizeToolMetadata(provider.ToolMetadata())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return hibikiErrors.InvalidInput(fmt.Sprintf("registry sealed, cannot register %q", name))
	}
	if _, exists := r.tools[name]; exists {
		return hibikiErrors.DuplicateTool(name)
	}

	r.tools[name] = registered{tool: t, schema: schema, meta: meta}
	return nil
}

// MustRegister is Register for static setup code.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) lookup(name string) (registered, bool) {
	name = NormalizeToolName(name)
	if r.sealed.Load() {
		entry, ok := r.tools[name]
		return entry, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}

// Resolve returns the tool registered under name or an ErrUnknownTool error.
func (r *Registry) Resolve(name string) (Tool, error) {
	entry, ok := r.lookup(name)
	if !ok {
		return nil, hibikiErrors.UnknownTool(NormalizeToolName(name))
	}
	return entry.tool, nil
}

// Schema returns the compiled parameter schema for name, or nil when the tool declares none.
func (r *Registry) Schema(name string) *jsonschema.Schema {
	entry, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return entry.schema
}

func (r *Registry) Names() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.tools)
}

// Descriptors lists every tool in name order, ready to advertise to a model.
func (r *Registry) Descriptors() []ToolDescriptor {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		entry := r.tools[name]
		descriptors = append(descriptors, ToolDescriptor{
			Definition: contract.ToolDef{
				Name:        name,
				Description: entry.tool.Description(),
				Parameters:  entry.tool.Parameters(),
			},
			Metadata: entry.meta,
		})
	}
	return descriptors
}

// Definitions is Descriptors without metadata.
func (r *Registry) Definitions() []contract.ToolDef {
	descriptors := r.Descriptors()
	defs := make([]contract.ToolDef, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, d.Definition)
	}
	return defs
}

func NormalizeToolName(name string) string {
	return strings.TrimSpace(name)
}
