// Package desktop implements the tools that run in-process: clipboard access
// and the parameterised computer tool for pointer, keyboard and screenshots.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/speedoflight/internal/clipboard"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// ErrUnknownTool is returned for a tool name the handler does not provide.
var ErrUnknownTool = errors.New("unknown desktop tool")

// Tool names.
const (
	ClipboardGetTool = "clipboard_get"
	ClipboardSetTool = "clipboard_set"
)

// HandlerConfig configures the local tool handler.
type HandlerConfig struct {
	// Clipboard backs clipboard_get and clipboard_set. Nil uses
	// clipboard.New().
	Clipboard       clipboard.Backend
	EnableClipboard bool

	// Computer enables the computer tool when set.
	Computer *ComputerTool

	Logger *slog.Logger
}

// Handler serves the local tools. It is safe for concurrent use.
type Handler struct {
	clipboard clipboard.Backend
	computer  *ComputerTool
	tools     []models.ToolDescriptor
	logger    *slog.Logger
}

// NewHandler builds the tool set from cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		computer: cfg.Computer,
		logger:   cfg.Logger.With("component", "desktop"),
	}
	if cfg.EnableClipboard {
		h.clipboard = cfg.Clipboard
		if h.clipboard == nil {
			h.clipboard = clipboard.New()
		}
		h.tools = append(h.tools,
			models.ToolDescriptor{
				Name:        ClipboardGetTool,
				Description: "Get the current text content of the system clipboard. This returns the text that was most recently copied or cut to the clipboard.",
				InputSchema: models.EmptyObjectSchema,
			},
			models.ToolDescriptor{
				Name:        ClipboardSetTool,
				Description: "Set the content of the system clipboard to the provided text. This will replace any existing clipboard content and make the text available for pasting in other applications.",
				InputSchema: clipboardSetSchema(),
			},
		)
	}
	if h.computer != nil {
		h.tools = append(h.tools, h.computer.Descriptor())
	}
	return h
}

// Tools returns the enabled tool descriptors.
func (h *Handler) Tools() []models.ToolDescriptor {
	return append([]models.ToolDescriptor(nil), h.tools...)
}

// Has reports whether name is an enabled local tool.
func (h *Handler) Has(name string) bool {
	for _, tool := range h.tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// Call runs one tool request and returns a tool message with exactly one
// result block. Failures become is_error results.
func (h *Handler) Call(ctx context.Context, req models.ToolInputRequest) models.Message {
	return models.NewMessage(models.RoleTool, h.call(ctx, req))
}

func (h *Handler) call(ctx context.Context, req models.ToolInputRequest) models.ContentBlock {
	if !h.Has(req.ToolName) {
		return h.unknown(req)
	}

	switch req.ToolName {
	case ClipboardGetTool:
		return h.clipboardGet(ctx, req)
	case ClipboardSetTool:
		return h.clipboardSet(ctx, req)
	case ComputerToolName:
		return h.computer.Call(ctx, req)
	}
	return h.unknown(req)
}

func (h *Handler) unknown(req models.ToolInputRequest) models.ContentBlock {
	err := fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName)
	h.logger.Warn("tool call rejected", "call_id", req.CallID, "error", err)
	return errorOutput(req, fmt.Sprintf("Unknown desktop tool: %s", req.ToolName))
}

func (h *Handler) clipboardGet(ctx context.Context, req models.ToolInputRequest) models.ContentBlock {
	text, err := h.clipboard.Read(ctx)
	if err != nil {
		h.logger.Error("clipboard read failed", "error", err)
		return errorOutput(req, fmt.Sprintf("Error reading clipboard: %v", err))
	}
	if text == "" {
		return textOutput(req, "(Clipboard is empty.)")
	}
	return textOutput(req, "Clipboard content: <content>"+text+"</content>")
}

func (h *Handler) clipboardSet(ctx context.Context, req models.ToolInputRequest) models.ContentBlock {
	args, err := req.ArgumentsMap()
	if err != nil {
		return errorOutput(req, fmt.Sprintf("Error executing desktop tool '%s': %v", req.ToolName, err))
	}
	text, ok := args["text"].(string)
	if !ok {
		return errorOutput(req, fmt.Sprintf("Error executing desktop tool '%s': Missing 'text' input for `%s` tool.", req.ToolName, ClipboardSetTool))
	}
	for key := range args {
		if key != "text" {
			h.logger.Warn("ignoring unexpected parameter", "tool", req.ToolName, "parameter", key)
		}
	}
	if err := h.clipboard.Write(ctx, text); err != nil {
		h.logger.Error("clipboard write failed", "error", err)
		return errorOutput(req, fmt.Sprintf("Error setting clipboard: %v", err))
	}
	return textOutput(req, "Clipboard content set successfully.")
}

func textOutput(req models.ToolInputRequest, text string) models.ContentBlock {
	return models.ToolTextOutput{CallID: req.CallID, ToolName: req.ToolName, Text: text}
}

func errorOutput(req models.ToolInputRequest, text string) models.ContentBlock {
	return models.ToolTextOutput{CallID: req.CallID, ToolName: req.ToolName, Text: text, IsError: true}
}
