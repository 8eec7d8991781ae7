package mcp

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// Blocks converts a tool result into content blocks. Content kinds with no
// block equivalent are logged and dropped. A result with no usable content
// yields a single empty text block so the call is still answered.
func (r *ToolCallResult) Blocks(callID, tool string, logger *slog.Logger) []models.ContentBlock {
	if logger == nil {
		logger = slog.Default()
	}
	var blocks []models.ContentBlock
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			blocks = append(blocks, models.ToolTextOutput{CallID: callID, ToolName: tool, Text: c.Text, IsError: r.IsError})
		case "image":
			data, err := base64.StdEncoding.DecodeString(c.Data)
			if err != nil {
				logger.Warn("dropping undecodable image content", "tool", tool, "error", err)
				continue
			}
			blocks = append(blocks, models.ToolImageOutput{
				CallID:   callID,
				ToolName: tool,
				Data:     data,
				MimeType: c.MimeType,
				IsError:  r.IsError,
			})
		case "resource":
			if c.Resource != nil && c.Resource.Text != "" {
				blocks = append(blocks, models.ToolTextOutput{CallID: callID, ToolName: tool, Text: c.Resource.Text, IsError: r.IsError})
				continue
			}
			logger.Warn("dropping binary resource content", "tool", tool)
		default:
			logger.Warn("dropping unsupported content", "tool", tool, "type", c.Type)
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, models.ToolTextOutput{CallID: callID, ToolName: tool, IsError: r.IsError})
	}
	return blocks
}

// ErrorBlock renders a failed call as an error result for the model.
func ErrorBlock(callID, tool string, err error) models.ContentBlock {
	return models.ToolTextOutput{
		CallID:   callID,
		ToolName: tool,
		Text:     fmt.Sprintf("Error calling tool %s: %v", tool, err),
		IsError:  true,
	}
}
