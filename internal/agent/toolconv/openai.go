package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ToOpenAITools converts descriptors to OpenAI function tools. The same
// shape is accepted by Ollama's chat endpoint.
func ToOpenAITools(tools []models.ToolDescriptor) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params map[string]any
		if err := json.Unmarshal(tool.Schema(), &params); err != nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}
