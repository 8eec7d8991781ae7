package providers

import (
	"context"
	"fmt"

	"github.com/haasonsaas/speedoflight/internal/agent"
	"github.com/haasonsaas/speedoflight/internal/config"
)

// New builds the adapter selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig, opts Options) (agent.Provider, error) {
	pc := cfg.Selected()
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			Model:             pc.Model,
			MaxTokens:         pc.MaxTokens,
			Temperature:       pc.Temperature,
			EnableThinking:    pc.EnableThinking,
			ThinkingBudget:    pc.ThinkingBudget,
			EnableWebSearch:   pc.EnableWebSearch,
			EnableComputerUse: pc.EnableComputerUse,
			Timeout:           pc.Timeout,
			MaxAttempts:       pc.MaxAttempts,
		}, opts)
	case config.ProviderOpenAI:
		return NewOpenAIProvider(openAIConfig(pc), opts)
	case config.ProviderOpenRouter:
		return NewOpenRouterProvider(OpenRouterConfig{OpenAIConfig: openAIConfig(pc)}, opts)
	case config.ProviderOllama:
		return NewOllamaProvider(OllamaConfig{
			BaseURL:     pc.BaseURL,
			Model:       pc.Model,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			Timeout:     pc.Timeout,
			MaxAttempts: pc.MaxAttempts,
		}, opts)
	case config.ProviderGoogle:
		return NewGoogleProvider(ctx, GoogleConfig{
			APIKey:          pc.APIKey,
			BaseURL:         pc.BaseURL,
			Model:           pc.Model,
			MaxTokens:       pc.MaxTokens,
			Temperature:     pc.Temperature,
			EnableThinking:  pc.EnableThinking,
			ThinkingBudget:  pc.ThinkingBudget,
			EnableWebSearch: pc.EnableWebSearch,
			Timeout:         pc.Timeout,
			MaxAttempts:     pc.MaxAttempts,
		}, opts)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func openAIConfig(pc config.ProviderConfig) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout,
		MaxAttempts: pc.MaxAttempts,
	}
}
