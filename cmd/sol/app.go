package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/speedoflight/internal/agent"
	"github.com/haasonsaas/speedoflight/internal/agent/providers"
	"github.com/haasonsaas/speedoflight/internal/config"
	"github.com/haasonsaas/speedoflight/internal/desktop"
	"github.com/haasonsaas/speedoflight/internal/mcp"
	"github.com/haasonsaas/speedoflight/internal/observability"
)

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(root *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return nil, err
	}
	if root.logLevel != "" {
		cfg.Observability.LogLevel = root.logLevel
	} else if cfg.Agent.Debug {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

// setupLogger installs the redacting logger as the slog default.
func setupLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: out,
	})
	slog.SetDefault(logger)
	return logger
}

// appOptions are the per-command parts of the wiring.
type appOptions struct {
	tracePath   string
	metricsAddr string
	approver    desktop.Approver
	sink        agent.EventSink
}

// app is a fully wired conversation: provider, local tools, MCP registry
// and runner, plus the observability around them.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *mcp.Registry
	runner   *agent.Runner
	queue    *agent.QueueSink

	cancel  context.CancelFunc
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{cfg: cfg, logger: logger, cancel: cancel}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	tc := cfg.Observability.Tracing
	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		Endpoint:       tc.Endpoint,
		SamplingRate:   tc.SamplingRate,
		Attributes:     tc.Attributes,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracer)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Observability.MetricsAddr
	}
	if metricsAddr != "" {
		if _, err := observability.ServeMetrics(ctx, metricsAddr, reg, logger); err != nil {
			return nil, err
		}
	}

	local, display, err := buildLocalTools(cfg.Desktop, opts.approver, logger)
	if err != nil {
		return nil, err
	}
	provider, err := providers.New(ctx, cfg.LLM, providers.Options{
		AppName:      cfg.Agent.AppName,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Display:      display,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	sinks := []agent.EventSink{}
	if opts.sink != nil {
		sinks = append(sinks, opts.sink)
	}
	if opts.tracePath != "" {
		trace, err := agent.NewTraceFile(opts.tracePath, sessionID, agent.WithAppVersion(version), agent.WithTraceLogger(logger))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, trace)
		// Runs after the queue has drained, see close.
		a.closers = append(a.closers, func(context.Context) error { return trace.Close() })
	}
	a.queue = agent.NewQueueSink(agent.NewMultiSink(sinks...), 0)

	var runner *agent.Runner
	a.registry = mcp.NewRegistry(cfg.MCPServers, mcp.RegistryOptions{
		Logger:            logger,
		Observer:          metrics,
		ValidateArguments: true,
		OnServerInitialized: func(sc *mcp.ServerConfig) {
			runner.ServerInitialized(ctx, sc.DisplayName())
		},
	})
	runner, err = agent.NewRunner(agent.RunnerConfig{
		Provider:      provider,
		Tools:         a.registry,
		Local:         local,
		Sink:          a.queue,
		MaxIterations: cfg.Agent.MaxIterations,
		SessionID:     sessionID,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		return nil, err
	}
	a.runner = runner

	if err := a.registry.Start(ctx); err != nil {
		return nil, err
	}
	runner.Start(ctx)
	return a, nil
}

// buildLocalTools creates the desktop handler and reports the display size
// the model should see.
func buildLocalTools(cfg config.DesktopConfig, approver desktop.Approver, logger *slog.Logger) (*desktop.Handler, providers.Display, error) {
	var (
		computer *desktop.ComputerTool
		display  providers.Display
	)
	if cfg.EnableComputerUse {
		runner := desktop.ExecRunner{}
		tool, err := desktop.NewComputerTool(desktop.ComputerConfig{
			Display:         desktop.Size{Width: cfg.DisplayWidth, Height: cfg.DisplayHeight},
			Target:          desktop.Size{Width: cfg.TargetWidth, Height: cfg.TargetHeight},
			Xdotool:         desktop.Xdotool{Path: cfg.XdotoolPath},
			Runner:          runner,
			Screenshots:     &desktop.CommandScreenshotter{Command: cfg.ScreenshotCommand, Runner: runner},
			Approver:        approver,
			Approval:        cfg.Approval,
			Logger:          logger,
			ScreenshotDelay: cfg.ScreenshotDelay,
		})
		if err != nil {
			return nil, display, err
		}
		computer = tool
		target := tool.TargetSize()
		display = providers.Display{Width: target.Width, Height: target.Height}
	}
	handler := desktop.NewHandler(desktop.HandlerConfig{
		EnableClipboard: cfg.EnableClipboard,
		Computer:        computer,
		Logger:          logger,
	})
	return handler, display, nil
}

// close shuts down servers, drains queued events and flushes exporters.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Shutdown(ctx))
	}
	if a.queue != nil {
		a.queue.Close()
	}
	for _, fn := range a.closers {
		errs = append(errs, fn(ctx))
	}
	if a.cancel != nil {
		a.cancel()
	}
	return errors.Join(errs...)
}
