package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles a tool's parameter schema. A nil or empty schema compiles to nil.
// The map is round-tripped through JSON first because Go values such as []string
// are not JSON types to the compiler.
func CompileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	url := "mem:///tools/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateInput checks JSON arguments against a compiled schema. A nil schema accepts anything.
func ValidateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if schema == nil {
		return nil
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	return schema.Validate(inst)
}
