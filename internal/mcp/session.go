package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/speedoflight/internal/backoff"
)

// ClientInfo identifies this client in the handshake.
var ClientInfo = Implementation{Name: "speedoflight", Version: "0.1.0"}

// maxPages bounds discovery against servers that never stop paginating.
const maxPages = 1000

// CallOptions controls tool call retries.
type CallOptions struct {
	// Retries is the total number of attempts. Values below 1 mean one.
	Retries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Session is one negotiated connection to a tool server.
type Session struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu    sync.RWMutex
	ready bool
	info  InitializeResult

	shutdownMu sync.Mutex
	closed     bool
}

// NewSession wraps a transport. The session is unusable until Initialize
// succeeds.
func NewSession(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		config:    cfg,
		transport: transport,
		logger:    logger.With("mcp_server", cfg.ID),
	}
}

// Config returns the server configuration.
func (s *Session) Config() *ServerConfig {
	return s.config
}

// Transport returns the underlying transport.
func (s *Session) Transport() Transport {
	return s.transport
}

// Initialize connects the transport and performs the handshake. The session
// becomes ready only after the server's reply was stored and the
// initialized notification was sent.
func (s *Session) Initialize(ctx context.Context) error {
	s.shutdownMu.Lock()
	closed := s.closed
	s.shutdownMu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	if !s.transport.Connected() {
		if err := s.transport.Connect(ctx); err != nil {
			return fmt.Errorf("transport connect: %w", err)
		}
	}

	raw, err := s.transport.Call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if err := s.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	s.mu.Lock()
	s.info = result
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("connected to MCP server",
		"name", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	s.logger.Debug("negotiated capabilities",
		"tools", result.Capabilities.Tools != nil,
		"resources", result.Capabilities.Resources != nil,
		"prompts", result.Capabilities.Prompts != nil,
		"instructions", result.Instructions != "")
	return nil
}

// Ready reports whether the handshake completed and the session is open.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// ProtocolVersion returns the version the server agreed to.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.ProtocolVersion
}

// Capabilities returns the capabilities advertised in the handshake.
func (s *Session) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Capabilities
}

// ServerInfo returns the server's name and version.
func (s *Session) ServerInfo() Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.ServerInfo
}

// Instructions returns the usage hints the server sent, if any.
func (s *Session) Instructions() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Instructions
}

// ListTools pages through tools/list. It returns an empty list when the
// server has no tools capability.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	caps, err := s.capabilities()
	if err != nil || caps.Tools == nil {
		return nil, err
	}
	return paginate(ctx, s, "tools/list", func(r ListToolsResult) ([]Tool, *string) {
		return r.Tools, r.NextCursor
	})
}

// ListResources pages through resources/list.
func (s *Session) ListResources(ctx context.Context) ([]Resource, error) {
	caps, err := s.capabilities()
	if err != nil || caps.Resources == nil {
		return nil, err
	}
	return paginate(ctx, s, "resources/list", func(r ListResourcesResult) ([]Resource, *string) {
		return r.Resources, r.NextCursor
	})
}

// ListResourceTemplates pages through resources/templates/list. Templates
// are gated on the resources capability.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	caps, err := s.capabilities()
	if err != nil || caps.Resources == nil {
		return nil, err
	}
	return paginate(ctx, s, "resources/templates/list", func(r ListResourceTemplatesResult) ([]ResourceTemplate, *string) {
		return r.ResourceTemplates, r.NextCursor
	})
}

// ListPrompts pages through prompts/list.
func (s *Session) ListPrompts(ctx context.Context) ([]Prompt, error) {
	caps, err := s.capabilities()
	if err != nil || caps.Prompts == nil {
		return nil, err
	}
	return paginate(ctx, s, "prompts/list", func(r ListPromptsResult) ([]Prompt, *string) {
		return r.Prompts, r.NextCursor
	})
}

// CallTool invokes a tool, retrying failed attempts with a fixed delay.
// A result flagged isError by the server is a successful call and is not
// retried. When every attempt fails the returned error is a
// *ToolCallError.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage, opts CallOptions) (*ToolCallResult, error) {
	if !s.Ready() {
		return nil, ErrNotInitialized
	}

	params := CallToolParams{Name: name, Arguments: args}
	res, err := backoff.Retry(ctx, backoff.Fixed(opts.Delay), opts.Retries,
		func(ctx context.Context, attempt int) (*ToolCallResult, error) {
			raw, err := s.transport.Call(ctx, "tools/call", params)
			if err != nil {
				return nil, err
			}
			var result ToolCallResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, fmt.Errorf("parse result: %w", err)
			}
			return &result, nil
		},
		func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("tool call failed, retrying",
				"tool", name,
				"attempt", attempt,
				"delay", wait,
				"error", err)
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err)
			}
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		cause := res.LastError
		if cause == nil {
			cause = err
		}
		return nil, &ToolCallError{Server: s.config.ID, Tool: name, Attempts: res.Attempts, Cause: cause}
	}
	return res.Value, nil
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if !s.Ready() {
		return ErrNotInitialized
	}
	_, err := s.transport.Call(ctx, "ping", nil)
	return err
}

// ReadResource reads one resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	caps, err := s.capabilities()
	if err != nil {
		return nil, err
	}
	if caps.Resources == nil {
		return nil, fmt.Errorf("%s: resources: %w", s.config.ID, ErrCapabilityMissing)
	}
	raw, err := s.transport.Call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return result.Contents, nil
}

// GetPrompt renders a prompt with the given arguments.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	caps, err := s.capabilities()
	if err != nil {
		return nil, err
	}
	if caps.Prompts == nil {
		return nil, fmt.Errorf("%s: prompts: %w", s.config.ID, ErrCapabilityMissing)
	}
	raw, err := s.transport.Call(ctx, "prompts/get", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var result GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}

// Shutdown releases the transport. Only the first call does any work;
// later and concurrent calls return nil once it finished.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.transport.Close() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close transport: %w", err)
		}
		s.logger.Debug("session shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) capabilities() (Capabilities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return Capabilities{}, ErrNotInitialized
	}
	return s.info.Capabilities, nil
}

func paginate[R any, T any](ctx context.Context, s *Session, method string, page func(R) ([]T, *string)) ([]T, error) {
	var (
		all    []T
		cursor string
		seen   = map[string]bool{}
	)
	for i := 0; i < maxPages; i++ {
		var params any
		if cursor != "" {
			params = PaginatedParams{Cursor: cursor}
		}
		raw, err := s.transport.Call(ctx, method, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		var result R
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%s: parse result: %w", method, err)
		}
		items, next := page(result)
		all = append(all, items...)

		if next == nil || *next == "" {
			s.logger.Debug("listed", "method", method, "count", len(all), "pages", i+1)
			return all, nil
		}
		if seen[*next] {
			return nil, fmt.Errorf("%s: server repeated cursor %q", method, *next)
		}
		seen[*next] = true
		cursor = *next
	}
	return nil, fmt.Errorf("%s: more than %d pages", method, maxPages)
}
