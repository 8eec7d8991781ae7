package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a session is used before its
	// handshake completed.
	ErrNotInitialized = errors.New("mcp: session not initialized")

	// ErrServerNotFound is returned for an unknown or failed server id.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrToolNotFound is returned when no ready server exposes a tool.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrCapabilityMissing is returned when a method is gated on a
	// capability the server did not advertise.
	ErrCapabilityMissing = errors.New("mcp: capability not advertised")

	// ErrTransportClosed is returned by calls on a closed transport.
	ErrTransportClosed = errors.New("mcp: transport closed")
)

// RPCError is a JSON-RPC 2.0 error object returned by a server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ToolCallError reports a tool call that failed on every attempt.
type ToolCallError struct {
	Server   string
	Tool     string
	Attempts int
	Cause    error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("call %s on %s failed after %d attempt(s): %v", e.Tool, e.Server, e.Attempts, e.Cause)
}

func (e *ToolCallError) Unwrap() error {
	return e.Cause
}
