package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	reflectschema "github.com/invopop/jsonschema"
)

// FuncTool adapts a typed Go function into a Tool. The parameter schema is reflected from T.
type FuncTool[T any] struct {
	name        string
	description string
	params      map[string]interface{}
	meta        ToolMetadata
	fn          func(ctx context.Context, args T) (any, error)
}

// NewFunc builds a typed tool. T is normally a struct whose json and jsonschema tags
// describe the arguments.
func NewFunc[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) (*FuncTool[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("tool %q: nil function", name)
	}
	params, err := ReflectParameters[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return &FuncTool[T]{
		name:        name,
		description: description,
		params:      params,
		meta:        ToolMetadata{Source: "func"},
		fn:          fn,
	}, nil
}

// WithMetadata sets the descriptor metadata and returns the tool for chaining.
func (f *FuncTool[T]) WithMetadata(meta ToolMetadata) *FuncTool[T] {
	f.meta = meta
	return f
}

func (f *FuncTool[T]) Name() string                       { return f.name }
func (f *FuncTool[T]) Description() string                { return f.description }
func (f *FuncTool[T]) Parameters() map[string]interface{} { return f.params }
func (f *FuncTool[T]) ToolMetadata() ToolMetadata         { return f.meta }

func (f *FuncTool[T]) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args T
	if len(bytes.TrimSpace(input)) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	out, err := f.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := out.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(out)
}

// ReflectParameters derives an inline JSON schema object for T.
func ReflectParameters[T any]() (map[string]interface{}, error) {
	reflector := reflectschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	var zero T
	schema := reflector.Reflect(zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}

	delete(params, "$schema")
	delete(params, "$id")
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	return params, nil
}
