package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// Metrics holds the Prometheus collectors for runs, model calls and tool
// calls. It implements agent.Observer and mcp.CallObserver.
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: status (success|error)
	RunCounter *prometheus.CounterVec

	// RunDuration measures whole runs in seconds.
	RunDuration *prometheus.HistogramVec

	// RunIterations records model calls per run.
	RunIterations prometheus.Histogram

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model calls in seconds, retries included.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool calls dispatched by the run loop.
	// Labels: tool_name, origin (local|remote), status
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool calls in seconds.
	// Labels: tool_name, origin
	ToolExecutionDuration *prometheus.HistogramVec

	// MCPCallCounter counts calls forwarded to MCP servers.
	// Labels: server, tool, status, attempts
	MCPCallCounter *prometheus.CounterVec

	// MCPCallDuration measures MCP calls in seconds, retries included.
	// Labels: server
	MCPCallDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sol_runs_total",
				Help: "Total number of agent runs by outcome",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sol_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		RunIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sol_run_iterations",
				Help:    "Model calls per agent run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sol_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sol_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sol_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sol_tool_executions_total",
				Help: "Total number of tool executions by tool, origin, and status",
			},
			[]string{"tool_name", "origin", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sol_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "origin"},
		),
		MCPCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sol_mcp_calls_total",
				Help: "Total number of MCP tool calls by server, tool, status, and attempts",
			},
			[]string{"server", "tool", "status", "attempts"},
		),
		MCPCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sol_mcp_call_duration_seconds",
				Help:    "Duration of MCP tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"server"},
		),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, iterations int, elapsed time.Duration) {
	m.RunCounter.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.RunIterations.Observe(float64(iterations))
}

// ObserveModelCall records one provider call. usage is nil on failure.
func (m *Metrics) ObserveModelCall(provider, model, status string, elapsed time.Duration, usage *models.Usage) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if usage == nil {
		return
	}
	if usage.InputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	}
}

// ObserveToolCall records one dispatched tool call.
func (m *Metrics) ObserveToolCall(tool, origin, status string, elapsed time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(tool, origin, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool, origin).Observe(elapsed.Seconds())
}

// ObserveMCPCall records one call forwarded to an MCP server.
func (m *Metrics) ObserveMCPCall(server, tool, status string, attempts int, elapsed time.Duration) {
	m.MCPCallCounter.WithLabelValues(server, tool, status, strconv.Itoa(attempts)).Inc()
	m.MCPCallDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

// ServeMetrics exposes gatherer on addr at /metrics until ctx is done.
// It returns once the listener is bound; serve errors are logged.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) (net.Addr, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
