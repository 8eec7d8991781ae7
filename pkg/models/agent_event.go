package models

import (
	"time"
)

// AgentEvent is the unified event model emitted by the agent runtime.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic per emitter.
	Sequence uint64 `json:"seq"`

	// RunID identifies the agent run.
	RunID string `json:"run_id,omitempty"`

	// SessionID identifies the conversation the run belongs to.
	SessionID string `json:"session_id,omitempty"`

	// IterIndex is the 1-based loop iteration that produced the event.
	IterIndex int `json:"iter_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Ready    *ReadyEventPayload  `json:"ready,omitempty"`
	Message  *Message            `json:"message,omitempty"`
	Response *RunResponse        `json:"response,omitempty"`
	Server   *ServerEventPayload `json:"server,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	AgentEventReady             AgentEventType = "agent.ready"
	AgentEventRunStarted        AgentEventType = "run.started"
	AgentEventUpdateAI          AgentEventType = "update.ai"
	AgentEventUpdateTool        AgentEventType = "update.tool"
	AgentEventRunCompleted      AgentEventType = "run.completed"
	AgentEventServerInitialized AgentEventType = "server.initialized"
)

// Terminal reports whether the event ends a run.
func (t AgentEventType) Terminal() bool {
	return t == AgentEventRunCompleted
}

// ReadyEventPayload is sent once the agent has its tool set.
type ReadyEventPayload struct {
	ToolCount int `json:"tool_count"`
}

// ServerEventPayload identifies a tool server.
type ServerEventPayload struct {
	Name string `json:"name"`
}

// RunResponse is the outcome of a run.
type RunResponse struct {
	IsError      bool   `json:"is_error"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Message is the final AI reply on success or the system-error
	// transcript entry on failure.
	Message *Message `json:"message,omitempty"`
}

// NewAgentEvent stamps an event with version and time.
func NewAgentEvent(typ AgentEventType) AgentEvent {
	return AgentEvent{
		Version: 1,
		Type:    typ,
		Time:    time.Now().UTC(),
	}
}
