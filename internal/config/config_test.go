package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/speedoflight/internal/mcp"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	path := writeConfig(t, "sol.yaml", `
mcp_servers:
  - id: fs
    command: /usr/local/bin/mcp-fs
  - id: search
    url: https://tools.example.com/mcp
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion || cfg.LLM.Provider != ProviderAnthropic {
		t.Fatalf("version=%d provider=%s", cfg.Version, cfg.LLM.Provider)
	}
	if cfg.LLM.Selected().APIKey != "sk-ant-env" {
		t.Fatalf("api key = %q", cfg.LLM.Selected().APIKey)
	}
	if cfg.Agent.MaxIterations != DefaultMaxIterations {
		t.Fatalf("max iterations = %d", cfg.Agent.MaxIterations)
	}
	if len(cfg.MCPServers) != 2 || cfg.MCPServers[0].ID != "fs" || cfg.MCPServers[1].ID != "search" {
		t.Fatalf("servers = %+v", cfg.MCPServers)
	}
	if cfg.MCPServers[0].Transport != mcp.TransportStdio || cfg.MCPServers[1].Transport != mcp.TransportStreamableHTTP {
		t.Fatalf("transports = %s, %s", cfg.MCPServers[0].Transport, cfg.MCPServers[1].Transport)
	}
	if cfg.MCPServers[0].Retries != mcp.DefaultRetries {
		t.Fatalf("retries = %d", cfg.MCPServers[0].Retries)
	}
	if cfg.Desktop.Approval.Timeout != 30*time.Second || len(cfg.Desktop.Approval.Allowlist) == 0 {
		t.Fatalf("approval = %+v", cfg.Desktop.Approval)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.Tracing.ServiceName != "sol" {
		t.Fatalf("observability = %+v", cfg.Observability)
	}
}

func TestLoadExpandsEnvAndDurations(t *testing.T) {
	t.Setenv("SOL_TEST_OPENAI_KEY", "sk-from-env")
	path := writeConfig(t, "sol.yaml", `
llm:
  provider: OpenAI
  providers:
    openai:
      api_key: ${SOL_TEST_OPENAI_KEY}
      model: gpt-4o-mini
      temperature: 0.4
      timeout: 90s
desktop:
  approval:
    timeout: 5s
    allowlist: ["screenshot"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	pc := cfg.LLM.Selected()
	if cfg.LLM.Provider != ProviderOpenAI || pc.APIKey != "sk-from-env" || pc.Model != "gpt-4o-mini" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if pc.Temperature == nil || *pc.Temperature != 0.4 || pc.Timeout != 90*time.Second {
		t.Fatalf("provider config = %+v", pc)
	}
	if cfg.Desktop.Approval.Timeout != 5*time.Second || len(cfg.Desktop.Approval.Allowlist) != 1 {
		t.Fatalf("approval = %+v", cfg.Desktop.Approval)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "sol.json5", `{
  // local models need no key
  llm: {provider: "ollama", providers: {ollama: {model: "qwen3", max_tokens: 512}}},
  agent: {max_iterations: 8},
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxIterations != 8 || cfg.LLM.Selected().MaxTokens != 512 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
llm:
  provider: ollama
agent:
  max_iterations: 3
  debug: true
`), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "sol.yaml")
	if err := os.WriteFile(main, []byte(`
$include: base.yaml
agent:
  max_iterations: 7
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != ProviderOllama || cfg.Agent.MaxIterations != 7 || !cfg.Agent.Debug {
		t.Fatalf("merged = %+v", cfg)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600)
	_ = os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600)

	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "sol.yaml", `
llm:
  provider: ollama
  extra: true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "extra") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown provider", yaml: "llm: {provider: bard}", want: `llm.provider "bard"`},
		{name: "missing key", yaml: "llm: {provider: openai}", want: "OPENAI_API_KEY"},
		{name: "bad iterations", yaml: "llm: {provider: ollama}\nagent: {max_iterations: -2}", want: "max_iterations"},
		{name: "bad base url", yaml: "llm: {provider: ollama, providers: {ollama: {base_url: localhost}}}", want: "base_url"},
		{name: "computer use elsewhere", yaml: "llm: {provider: ollama, providers: {ollama: {enable_computer_use: true}}}", want: "only supported for anthropic"},
		{name: "duplicate server", yaml: "llm: {provider: ollama}\nmcp_servers: [{id: a, command: /bin/a}, {id: a, command: /bin/b}]", want: "duplicate id"},
		{name: "bad server", yaml: "llm: {provider: ollama}\nmcp_servers: [{id: a, transport: carrier_pigeon}]", want: "unknown transport"},
		{name: "half target", yaml: "llm: {provider: ollama}\ndesktop: {target_width: 800}", want: "set together"},
		{name: "log level", yaml: "llm: {provider: ollama}\nobservability: {log_level: loud}", want: "log_level"},
		{name: "sampling", yaml: "llm: {provider: ollama}\nobservability: {tracing: {sampling_rate: 2}}", want: "sampling_rate"},
		{name: "future version", yaml: "version: 9\nllm: {provider: ollama}", want: "newer than this build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "sol.yaml", tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsValidationError(err) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"llm", "agent", "mcp_servers", "desktop", "observability"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
}
