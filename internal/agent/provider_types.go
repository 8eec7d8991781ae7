package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/speedoflight/internal/mcp"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// Provider generates the next assistant message for a conversation.
//
// Implementations translate the conversation and tool set into a model
// API's native schema and translate the reply back. The returned message
// has RoleAI and a StopReason set. Implementations must be safe for
// concurrent use across conversations.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, conversation []models.Message, tools []models.ToolDescriptor) (models.Message, error)
}

// RemoteTools is the tool registry as seen by the run loop.
type RemoteTools interface {
	Tools() []models.ToolDescriptor
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.ToolCallResult, error)
}

// LocalTools is a handler for tools that run in-process.
type LocalTools interface {
	Tools() []models.ToolDescriptor
	Has(name string) bool

	// Call executes the tool and returns a tool message. Failures are
	// reported as is_error content, never as a Go error.
	Call(ctx context.Context, req models.ToolInputRequest) models.Message
}

// Observer receives run-loop measurements.
type Observer interface {
	ObserveModelCall(provider, model, status string, elapsed time.Duration, usage *models.Usage)
	ObserveToolCall(tool, origin, status string, elapsed time.Duration)
	ObserveRun(status string, iterations int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveModelCall(string, string, string, time.Duration, *models.Usage) {}
func (nopObserver) ObserveToolCall(string, string, string, time.Duration)                 {}
func (nopObserver) ObserveRun(string, int, time.Duration)                                 {}
