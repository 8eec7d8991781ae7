package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Transport is a bidirectional JSON-RPC message stream to one server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close releases the connection. It is safe to call more than once.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected returns whether the transport is usable.
	Connected() bool
}

// NewTransport creates the transport selected by the server configuration.
func NewTransport(cfg *ServerConfig, logger *slog.Logger) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		return NewStdioTransport(cfg, logger), nil
	case TransportStreamableHTTP:
		return NewStreamableHTTPTransport(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q for server %s", cfg.Transport, cfg.ID)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// responseID normalises a decoded JSON-RPC id to int64. Servers echo the
// id back as a JSON number, or occasionally a numeric string.
func responseID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		var n int64
		_, err := fmt.Sscan(v, &n)
		return n, err == nil
	}
	return 0, false
}

// replyToServerRequest answers a request the server sent to the client.
// Only ping is supported; everything else is method-not-found.
func replyToServerRequest(id any, method string) JSONRPCResponse {
	if method == "ping" {
		return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: json.RawMessage("{}")}
	}
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + method},
	}
}
