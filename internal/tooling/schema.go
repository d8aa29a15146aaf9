// Package tooling builds the JSON-Schema-shaped parameter descriptions
// attached to an agent.Tool and advertised to the LLM as a function
// declaration (§3, §4.2).
//
// Hand-rolled map[string]any literals are easy to typo into an invalid
// schema with no feedback until a provider rejects it at call time. This
// package uses google/jsonschema-go's Schema type — the same schema
// library the teacher's MCP host depends on for describing tool parameters
// — to build each tool's parameter schema, then flattens it to the
// map[string]any shape pkg/types.ToolDefinition.Parameters and the
// provider adapters expect.
package tooling

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Object builds an object schema with the given properties and required
// field names, the shape every corevox tool's parameters take.
func Object(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// String builds a string property schema with a description.
func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// Enum builds a string property schema constrained to one of values.
func Enum(description string, values ...string) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

// Integer builds an integer property schema with a description.
func Integer(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

// ToParameters flattens a *jsonschema.Schema to the map[string]any shape
// used by pkg/types.ToolDefinition.Parameters, via a JSON round trip so the
// flattened shape always tracks whatever jsonschema.Schema currently
// marshals to rather than duplicating its field set by hand.
func ToParameters(s *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tooling: marshal schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tooling: unmarshal schema: %v", err))
	}
	return out
}
