package toolconv

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ToGeminiTools converts descriptors to a single Gemini tool holding one
// function declaration per descriptor. Descriptors with unparseable schemas
// are skipped.
func ToGeminiTools(tools []models.ToolDescriptor) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  ToGeminiSchema(schemaMap),
		})
	}

	if len(declarations) == 0 {
		return nil
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: declarations,
		},
	}
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func ToGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enum, ok := schemaMap["enum"].([]any); ok {
		// Gemini only accepts string enums.
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(propMap)
			}
		}
	}

	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}

	if schema.Type == genai.TypeInteger || schema.Type == genai.TypeNumber {
		if v, ok := schemaMap["minimum"].(float64); ok {
			schema.Minimum = &v
		}
		if v, ok := schemaMap["maximum"].(float64); ok {
			schema.Maximum = &v
		}
	}
	if schema.Type == genai.TypeArray {
		if v, ok := schemaMap["minItems"].(float64); ok {
			n := int64(v)
			schema.MinItems = &n
		}
		if v, ok := schemaMap["maxItems"].(float64); ok {
			n := int64(v)
			schema.MaxItems = &n
		}
	}

	return schema
}
