package models

import "encoding/json"

// ToolDescriptor describes a callable tool independent of where it runs.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`

	// Server is the id of the tool server exposing the tool. Empty for
	// local tools.
	Server string `json:"server,omitempty"`
}

// EmptyObjectSchema is the input schema for tools that take no arguments.
var EmptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Schema returns the input schema, substituting an empty object schema
// when none was provided.
func (d ToolDescriptor) Schema() json.RawMessage {
	if len(d.InputSchema) == 0 || string(d.InputSchema) == "null" {
		return EmptyObjectSchema
	}
	return d.InputSchema
}
