package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// CallObserver records tool call outcomes. observability.Metrics
// implements it.
type CallObserver interface {
	ObserveMCPCall(server, tool, status string, attempts int, elapsed time.Duration)
}

// TransportFactory builds the transport for a server.
type TransportFactory func(cfg *ServerConfig, logger *slog.Logger) (Transport, error)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger *slog.Logger

	// Observer receives per-call metrics. Optional.
	Observer CallObserver

	// NewTransport overrides transport construction. Defaults to
	// NewTransport.
	NewTransport TransportFactory

	// OnServerInitialized is called once per server after its handshake
	// and discovery succeeded. It may be called from several goroutines.
	OnServerInitialized func(cfg *ServerConfig)

	// ValidateArguments checks call arguments against the tool's input
	// schema before sending them.
	ValidateArguments bool
}

// Discovery is what a server exposed when it was started.
type Discovery struct {
	Tools             []Tool
	Resources         []Resource
	ResourceTemplates []ResourceTemplate
	Prompts           []Prompt
}

// ServerStatus summarises one configured server.
type ServerStatus struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Transport       TransportType  `json:"transport"`
	Ready           bool           `json:"ready"`
	Disabled        bool           `json:"disabled,omitempty"`
	Error           string         `json:"error,omitempty"`
	Server          Implementation `json:"server"`
	ProtocolVersion string         `json:"protocol_version,omitempty"`
	Tools           int            `json:"tools"`
	Resources       int            `json:"resources"`
	Templates       int            `json:"resource_templates"`
	Prompts         int            `json:"prompts"`
}

type serverEntry struct {
	config    *ServerConfig
	session   *Session
	discovery Discovery
	err       error
}

// Registry owns one session per configured server. Its server map is only
// written by Start and Shutdown; lookups during runs are read-only.
type Registry struct {
	configs      []*ServerConfig
	opts         RegistryOptions
	logger       *slog.Logger
	newTransport TransportFactory
	validator    *ArgumentValidator

	mu      sync.RWMutex
	entries map[string]*serverEntry
	tools   []models.ToolDescriptor
	owners  map[string]string
}

// NewRegistry creates a registry for the given servers. Config order is
// the tool-name collision order: the first server exposing a name wins.
func NewRegistry(configs []*ServerConfig, opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.NewTransport
	if factory == nil {
		factory = NewTransport
	}
	ordered := make([]*ServerConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		c := *cfg
		c.ApplyDefaults()
		ordered = append(ordered, &c)
	}
	return &Registry{
		configs:      ordered,
		opts:         opts,
		logger:       logger.With("component", "mcp"),
		newTransport: factory,
		validator:    NewArgumentValidator(),
		entries:      make(map[string]*serverEntry),
		owners:       make(map[string]string),
	}
}

// Start initialises every enabled server concurrently. A server whose
// transport, handshake, or tool discovery fails is shut down and left out
// of the tool set; the others are unaffected. Start only returns an error
// for duplicate server ids.
func (r *Registry) Start(ctx context.Context) error {
	seen := make(map[string]bool, len(r.configs))
	for _, cfg := range r.configs {
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate MCP server id %q", cfg.ID)
		}
		seen[cfg.ID] = true
	}

	results := make([]*serverEntry, len(r.configs))
	var wg sync.WaitGroup
	for i, cfg := range r.configs {
		if cfg.Disabled {
			results[i] = &serverEntry{config: cfg}
			continue
		}
		wg.Add(1)
		go func(i int, cfg *ServerConfig) {
			defer wg.Done()
			results[i] = r.startServer(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	r.mu.Lock()
	for _, entry := range results {
		r.entries[entry.config.ID] = entry
	}
	r.rebuildToolsLocked()
	toolCount := len(r.tools)
	r.mu.Unlock()

	r.logger.Info("MCP servers started", "servers", len(r.configs), "tools", toolCount)
	return nil
}

func (r *Registry) startServer(ctx context.Context, cfg *ServerConfig) *serverEntry {
	entry := &serverEntry{config: cfg}
	logger := r.logger.With("mcp_server", cfg.ID)

	fail := func(err error) *serverEntry {
		logger.Error("MCP server failed to start", "error", err)
		if entry.session != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if sErr := entry.session.Shutdown(shutdownCtx); sErr != nil {
				logger.Warn("shutdown after failed start", "error", sErr)
			}
		}
		entry.session = nil
		entry.err = err
		return entry
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	transport, err := r.newTransport(cfg, r.logger)
	if err != nil {
		return fail(err)
	}
	entry.session = NewSession(cfg, transport, r.logger)

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := entry.session.Initialize(initCtx); err != nil {
		return fail(err)
	}

	tools, err := entry.session.ListTools(initCtx)
	if err != nil {
		return fail(err)
	}
	for _, tool := range tools {
		if cfg.Allows(tool.Name) {
			entry.discovery.Tools = append(entry.discovery.Tools, tool)
		} else {
			logger.Debug("tool filtered by allow-list", "tool", tool.Name)
		}
	}

	// Resources and prompts are informational; a failure there does not
	// take the server's tools away.
	if entry.discovery.Resources, err = entry.session.ListResources(initCtx); err != nil {
		logger.Warn("listing resources failed", "error", err)
	}
	if entry.discovery.ResourceTemplates, err = entry.session.ListResourceTemplates(initCtx); err != nil {
		logger.Warn("listing resource templates failed", "error", err)
	}
	if entry.discovery.Prompts, err = entry.session.ListPrompts(initCtx); err != nil {
		logger.Warn("listing prompts failed", "error", err)
	}

	logger.Info("MCP server ready",
		"tools", len(entry.discovery.Tools),
		"resources", len(entry.discovery.Resources),
		"prompts", len(entry.discovery.Prompts))
	if r.opts.OnServerInitialized != nil {
		r.opts.OnServerInitialized(cfg)
	}
	return entry
}

func (r *Registry) rebuildToolsLocked() {
	r.tools = r.tools[:0]
	r.owners = make(map[string]string)
	for _, cfg := range r.configs {
		entry, ok := r.entries[cfg.ID]
		if !ok || entry.session == nil {
			continue
		}
		for _, tool := range entry.discovery.Tools {
			if owner, taken := r.owners[tool.Name]; taken {
				r.logger.Warn("tool name collision, keeping first server",
					"tool", tool.Name,
					"kept", owner,
					"ignored", cfg.ID)
				continue
			}
			r.owners[tool.Name] = cfg.ID
			r.tools = append(r.tools, models.ToolDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Server:      cfg.ID,
			})
		}
	}
}

// Tools returns the exposed tools in config order.
func (r *Registry) Tools() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, len(r.tools))
	copy(out, r.tools)
	return out
}

// FindTool returns the session that owns a tool name.
func (r *Registry) FindTool(name string) (*Session, Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[name]
	if !ok {
		return nil, Tool{}, false
	}
	entry := r.entries[owner]
	if entry == nil || entry.session == nil {
		return nil, Tool{}, false
	}
	for _, tool := range entry.discovery.Tools {
		if tool.Name == name {
			return entry.session, tool, true
		}
	}
	return nil, Tool{}, false
}

// CallTool routes a call to the server owning name, using that server's
// retry settings.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	session, tool, ok := r.FindTool(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	cfg := session.Config()

	if r.opts.ValidateArguments {
		if err := r.validator.Validate(tool, args); err != nil {
			r.observe(cfg.ID, name, "invalid", 0, 0)
			return nil, err
		}
	}

	start := time.Now()
	attempts := 1
	result, err := session.CallTool(ctx, name, args, CallOptions{
		Retries: cfg.Retries,
		Delay:   cfg.RetryDelay,
		OnRetry: func(attempt int, _ error) { attempts = attempt + 1 },
	})
	status := "success"
	switch {
	case err != nil:
		status = "error"
		var callErr *ToolCallError
		if errors.As(err, &callErr) {
			attempts = callErr.Attempts
		}
	case result.IsError:
		status = "tool_error"
	}
	r.observe(cfg.ID, name, status, attempts, time.Since(start))
	return result, err
}

func (r *Registry) observe(server, tool, status string, attempts int, elapsed time.Duration) {
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveMCPCall(server, tool, status, attempts, elapsed)
	}
}

// Session returns the ready session for a server id.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return entry.session, nil
}

// Sessions returns the ready sessions in config order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, cfg := range r.configs {
		if entry, ok := r.entries[cfg.ID]; ok && entry.session != nil {
			out = append(out, entry.session)
		}
	}
	return out
}

// Discovered returns what a ready server exposed at startup.
func (r *Registry) Discovered(id string) (Discovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.session == nil {
		return Discovery{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return entry.discovery, nil
}

// Status reports every configured server in config order.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]ServerStatus, 0, len(r.configs))
	for _, cfg := range r.configs {
		status := ServerStatus{
			ID:        cfg.ID,
			Name:      cfg.DisplayName(),
			Transport: cfg.Transport,
			Disabled:  cfg.Disabled,
		}
		if entry, ok := r.entries[cfg.ID]; ok {
			if entry.err != nil {
				status.Error = entry.err.Error()
			}
			if entry.session != nil {
				status.Ready = entry.session.Ready()
				status.Server = entry.session.ServerInfo()
				status.ProtocolVersion = entry.session.ProtocolVersion()
			}
			status.Tools = len(entry.discovery.Tools)
			status.Resources = len(entry.discovery.Resources)
			status.Templates = len(entry.discovery.ResourceTemplates)
			status.Prompts = len(entry.discovery.Prompts)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Shutdown shuts down every session and removes it from the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	var sessions []*Session
	for _, entry := range r.entries {
		if entry.session != nil {
			sessions = append(sessions, entry.session)
		}
	}
	r.entries = make(map[string]*serverEntry)
	r.tools = nil
	r.owners = make(map[string]string)
	r.mu.Unlock()

	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Config().ID, err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}
