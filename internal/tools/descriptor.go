package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ParamType is the JSON Schema type of a parameter.
type ParamType string

// Parameter types.
const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Descriptor describes a tool. Descriptors are read-only once registered.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter

	// Internal tools are never listed to clients.
	Internal bool
}

// InputSchema projects the parameters into a JSON Schema object.
// Array parameters get an empty items schema since item types are not
// tracked.
func (d Descriptor) InputSchema() mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{
		Type:       "object",
		Properties: make(map[string]any, len(d.Parameters)),
	}

	for _, p := range d.Parameters {
		typ := p.Type
		if typ == "" {
			typ = TypeString
		}

		prop := map[string]any{"type": string(typ)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if typ == TypeArray {
			prop["items"] = map[string]any{}
		}
		schema.Properties[p.Name] = prop

		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// Tool returns the MCP definition of the descriptor.
func (d Descriptor) Tool() mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema(),
	}
}

// Visible filters out internal descriptors.
func Visible(descs []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if !d.Internal {
			out = append(out, d)
		}
	}
	return out
}
