package mcp

import "encoding/json"

// InputSchema is the normalized shape of a tool's input schema. Raw tool
// records arrive with any subset of these fields present; normalization
// makes the absences explicit instead of leaving consumers to probe for
// them.
type InputSchema struct {
	// Type is the JSON Schema type, defaulting to "object" when the
	// server omits it.
	Type string `json:"type"`

	// Properties maps parameter names to their schema fragments. The
	// fragments are kept raw; code generation interprets them, this
	// layer only separates them.
	Properties map[string]json.RawMessage `json:"properties"`

	// Required lists the parameter names the server marks mandatory.
	Required []string `json:"required"`
}

// ToolDefinition is a named, schema-described operation an MCP server
// exposes. Instances are produced by schema fetching and never mutated
// afterwards.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// rawTool is a tool record as servers send it, before normalization.
type rawTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	} `json:"inputSchema"`
}

// normalize converts a raw tool record into a ToolDefinition, applying
// defaults for absent fields.
func (t rawTool) normalize() ToolDefinition {
	schema := InputSchema{
		Type:       t.InputSchema.Type,
		Properties: t.InputSchema.Properties,
		Required:   t.InputSchema.Required,
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Properties == nil {
		schema.Properties = map[string]json.RawMessage{}
	}
	if schema.Required == nil {
		schema.Required = []string{}
	}
	return ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}
