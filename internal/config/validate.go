package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("%v", err)
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOpenRouter, ProviderGoogle:
		if strings.TrimSpace(c.LLM.Selected().APIKey) == "" {
			add("llm.providers.%s.api_key is required (or set %s)", c.LLM.Provider, strings.Join(apiKeyEnv[c.LLM.Provider], " or "))
		}
	case ProviderOllama:
	default:
		add("llm.provider %q is not supported", c.LLM.Provider)
	}
	for name, pc := range c.LLM.Providers {
		if pc.MaxTokens < 0 {
			add("llm.providers.%s.max_tokens must not be negative", name)
		}
		if pc.Temperature != nil && (*pc.Temperature < 0 || *pc.Temperature > 2) {
			add("llm.providers.%s.temperature must be between 0 and 2", name)
		}
		if pc.BaseURL != "" {
			if u, err := url.Parse(pc.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				add("llm.providers.%s.base_url %q is not an absolute URL", name, pc.BaseURL)
			}
		}
		if pc.EnableComputerUse && name != ProviderAnthropic {
			add("llm.providers.%s.enable_computer_use is only supported for anthropic", name)
		}
	}

	if c.Agent.MaxIterations < 1 {
		add("agent.max_iterations must be at least 1")
	}

	seen := map[string]bool{}
	for i, server := range c.MCPServers {
		if server == nil {
			add("mcp_servers[%d] is empty", i)
			continue
		}
		if seen[server.ID] {
			add("mcp_servers[%d]: duplicate id %q", i, server.ID)
		}
		seen[server.ID] = true
		if err := server.Validate(); err != nil {
			add("mcp_servers[%d]: %v", i, err)
		}
	}

	d := c.Desktop
	if d.DisplayWidth < 0 || d.DisplayHeight < 0 || d.TargetWidth < 0 || d.TargetHeight < 0 {
		add("desktop sizes must not be negative")
	}
	if (d.TargetWidth == 0) != (d.TargetHeight == 0) {
		add("desktop.target_width and desktop.target_height must be set together")
	}
	if d.Approval.Timeout < 0 {
		add("desktop.approval.timeout must not be negative")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("observability.log_level %q is not one of debug, info, warn, error", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "text", "json":
	default:
		add("observability.log_format %q is not one of text, json", c.Observability.LogFormat)
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
