// Package config loads the sol configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/speedoflight/internal/desktop"
	"github.com/haasonsaas/speedoflight/internal/mcp"
)

// Provider names accepted in llm.provider.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderGoogle     = "google"
)

// Config is the main configuration structure for sol.
type Config struct {
	Version       int                 `yaml:"version"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	MCPServers    []*mcp.ServerConfig `yaml:"mcp_servers"`
	Desktop       DesktopConfig       `yaml:"desktop"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider  string                    `yaml:"provider"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Selected returns the settings of the selected provider.
func (c LLMConfig) Selected() ProviderConfig {
	return c.Providers[c.Provider]
}

// ProviderConfig holds credentials and request options for one provider.
// Not every provider honors every field.
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       *float64      `yaml:"temperature"`
	EnableThinking    bool          `yaml:"enable_thinking"`
	ThinkingBudget    int           `yaml:"thinking_budget"`
	EnableWebSearch   bool          `yaml:"enable_web_search"`
	EnableComputerUse bool          `yaml:"enable_computer_use"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// AgentConfig tunes the run loop.
type AgentConfig struct {
	// MaxIterations caps model calls per run.
	// Default: 25
	MaxIterations int    `yaml:"max_iterations"`
	AppName       string `yaml:"app_name"`
	SystemPrompt  string `yaml:"system_prompt"`
	Debug         bool   `yaml:"debug"`
}

// DesktopConfig enables the in-process desktop tools.
type DesktopConfig struct {
	EnableClipboard   bool `yaml:"enable_clipboard"`
	EnableComputerUse bool `yaml:"enable_computer_use"`

	DisplayWidth  int `yaml:"display_width"`
	DisplayHeight int `yaml:"display_height"`
	TargetWidth   int `yaml:"target_width"`
	TargetHeight  int `yaml:"target_height"`

	XdotoolPath       string        `yaml:"xdotool_path"`
	ScreenshotCommand []string      `yaml:"screenshot_command"`
	ScreenshotDelay   time.Duration `yaml:"screenshot_delay"`

	Approval desktop.ApprovalPolicy `yaml:"approval"`
}

// ObservabilityConfig configures logs, metrics and traces.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr"`

	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Defaults.
const (
	DefaultProvider      = ProviderAnthropic
	DefaultMaxIterations = 25
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultServiceName   = "sol"
	DefaultDisplayWidth  = 1920
	DefaultDisplayHeight = 1080
)

// apiKeyEnv lists the environment variables consulted when a provider has
// no api_key, in order.
var apiKeyEnv = map[string][]string{
	ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	ProviderOpenAI:     {"OPENAI_API_KEY"},
	ProviderOpenRouter: {"OPENROUTER_API_KEY"},
	ProviderGoogle:     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields, including API keys from the
// environment.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultProvider
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}
	for name, vars := range apiKeyEnv {
		pc := cfg.LLM.Providers[name]
		if pc.APIKey != "" {
			continue
		}
		for _, v := range vars {
			if key := os.Getenv(v); key != "" {
				pc.APIKey = key
				cfg.LLM.Providers[name] = pc
				break
			}
		}
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}

	for _, server := range cfg.MCPServers {
		if server != nil {
			server.ApplyDefaults()
		}
	}

	if cfg.Desktop.DisplayWidth == 0 {
		cfg.Desktop.DisplayWidth = DefaultDisplayWidth
	}
	if cfg.Desktop.DisplayHeight == 0 {
		cfg.Desktop.DisplayHeight = DefaultDisplayHeight
	}
	if cfg.Desktop.Approval.Timeout == 0 {
		cfg.Desktop.Approval.Timeout = desktop.DefaultApprovalTimeout
	}
	if cfg.Desktop.Approval.Allowlist == nil {
		cfg.Desktop.Approval.Allowlist = desktop.DefaultApprovalPolicy().Allowlist
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = DefaultLogLevel
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = DefaultLogFormat
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}
