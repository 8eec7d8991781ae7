// Package toolconv converts tool descriptors into provider SDK tool types.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ToAnthropicBetaTools converts descriptors to Anthropic beta tool params.
func ToAnthropicBetaTools(tools []models.ToolDescriptor) ([]anthropic.BetaToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.BetaToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param, err := ToAnthropicBetaTool(tool)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicBetaTool converts one descriptor. An empty description falls
// back to the tool name.
func ToAnthropicBetaTool(tool models.ToolDescriptor) (anthropic.BetaToolUnionParam, error) {
	var schema anthropic.BetaToolInputSchemaParam
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		return anthropic.BetaToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
	}

	param := anthropic.BetaToolUnionParamOfTool(schema, tool.Name)
	if param.OfTool == nil {
		return anthropic.BetaToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
	}
	description := tool.Description
	if description == "" {
		description = tool.Name
	}
	param.OfTool.Description = anthropic.String(description)
	return param, nil
}
