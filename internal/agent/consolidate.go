package agent

import (
	"log/slog"
	"strings"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ConsolidateToolResult folds the blocks produced by one tool call into a
// single output block. Some tool servers return several results for one
// call; providers accept exactly one.
//
// Text blocks are joined with newlines. When text and images are mixed the
// images are dropped. Of several images only the first is kept. No usable
// output yields an empty text block.
func ConsolidateToolResult(callID, name string, blocks []models.ContentBlock) models.ContentBlock {
	return consolidateToolResult(callID, name, blocks, slog.Default())
}

func consolidateToolResult(callID, name string, blocks []models.ContentBlock, logger *slog.Logger) models.ContentBlock {
	var (
		texts   []string
		images  []models.ToolImageOutput
		isError bool
	)
	for _, block := range blocks {
		switch b := block.(type) {
		case models.ToolTextOutput:
			texts = append(texts, b.Text)
			isError = isError || b.IsError
		case models.TextBlock:
			texts = append(texts, b.Text)
		case models.ToolImageOutput:
			images = append(images, b)
			isError = isError || b.IsError
		default:
			logger.Warn("dropping unsupported tool result block",
				"tool", name,
				"block_type", block.BlockType())
		}
	}

	if len(texts) > 0 {
		if len(images) > 0 {
			logger.Warn("tool returned text and images; keeping text only",
				"tool", name,
				"images_dropped", len(images))
		}
		return models.ToolTextOutput{
			CallID:   callID,
			ToolName: name,
			Text:     strings.Join(texts, "\n"),
			IsError:  isError,
		}
	}

	if len(images) > 0 {
		if len(images) > 1 {
			logger.Warn("tool returned several images; keeping the first",
				"tool", name,
				"images", len(images))
		}
		img := images[0]
		img.CallID = callID
		img.ToolName = name
		img.IsError = isError
		return img
	}

	return models.ToolTextOutput{CallID: callID, ToolName: name, IsError: isError}
}
