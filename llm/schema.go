package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema builds a jsonschema validator from an inline JSON Schema
// document supplied as a generic map (the shape StructuredRequest.JSONSchema
// carries).
func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal json schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("llm: decode json schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resource = "itinerary-generated-schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("llm: add json schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("llm: compile json schema: %w", err)
	}
	return compiled, nil
}

// validateAgainst parses candidate as JSON and validates it against schema,
// returning the decoded object on success.
func validateAgainst(schema *jsonschema.Schema, candidate string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, fmt.Errorf("llm: parse json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("llm: schema validation: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("llm: structured response is not a json object")
	}
	return obj, nil
}
