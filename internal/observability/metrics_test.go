package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/speedoflight/internal/agent"
	"github.com/haasonsaas/speedoflight/internal/mcp"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

var (
	_ agent.Observer   = (*Metrics)(nil)
	_ mcp.CallObserver = (*Metrics)(nil)
)

func TestObserveModelCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveModelCall("anthropic", "claude", "success", time.Second, &models.Usage{InputTokens: 100, OutputTokens: 20})
	m.ObserveModelCall("anthropic", "claude", "success", time.Second, &models.Usage{InputTokens: 50})
	m.ObserveModelCall("anthropic", "claude", "error", time.Second, nil)

	expected := `
		# HELP sol_llm_tokens_total Total number of tokens used by provider, model, and type
		# TYPE sol_llm_tokens_total counter
		sol_llm_tokens_total{model="claude",provider="anthropic",type="input"} 150
		sol_llm_tokens_total{model="claude",provider="anthropic",type="output"} 20
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected tokens: %v", err)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude", "success")); got != 2 {
		t.Errorf("success requests = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude", "error")); got != 1 {
		t.Errorf("error requests = %v", got)
	}
	if count := testutil.CollectAndCount(m.LLMRequestDuration); count != 1 {
		t.Errorf("duration series = %d", count)
	}
}

func TestObserveToolAndRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveToolCall("computer", "local", "success", 200*time.Millisecond)
	m.ObserveToolCall("search", "remote", "error", time.Second)
	m.ObserveRun("success", 3, 4*time.Second)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 2 {
		t.Errorf("tool series = %d", count)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("search", "remote", "error")); got != 1 {
		t.Errorf("remote errors = %v", got)
	}
	if got := testutil.ToFloat64(m.RunCounter.WithLabelValues("success")); got != 1 {
		t.Errorf("runs = %v", got)
	}
}

func TestObserveMCPCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveMCPCall("fs", "read_file", "success", 1, 10*time.Millisecond)
	m.ObserveMCPCall("fs", "read_file", "error", 3, time.Second)

	expected := `
		# HELP sol_mcp_calls_total Total number of MCP tool calls by server, tool, status, and attempts
		# TYPE sol_mcp_calls_total counter
		sol_mcp_calls_total{attempts="1",server="fs",status="success",tool="read_file"} 1
		sol_mcp_calls_total{attempts="3",server="fs",status="error",tool="read_file"} 1
	`
	if err := testutil.CollectAndCompare(m.MCPCallCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected mcp calls: %v", err)
	}
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering twice")
		}
	}()
	NewMetrics(reg)
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveRun("success", 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := ServeMetrics(ctx, "127.0.0.1:0", reg, nil)
	if err != nil {
		t.Fatalf("ServeMetrics() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `sol_runs_total{status="success"} 1`) {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
}
