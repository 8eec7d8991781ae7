package providers

import (
	"net/http"
	"strings"
)

// OpenRouter defaults.
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "openai/gpt-4o"
)

// OpenRouterConfig configures the OpenRouter adapter. OpenRouter speaks the
// Chat Completions protocol, so the OpenAI adapter does the work.
type OpenRouterConfig struct {
	OpenAIConfig

	// AppName is shown in the OpenRouter dashboard (X-Title).
	AppName string

	// SiteURL identifies the caller for OpenRouter rankings (HTTP-Referer).
	SiteURL string
}

// NewOpenRouterProvider returns an OpenAI adapter named "openrouter" that
// talks to OpenRouter.
func NewOpenRouterProvider(cfg OpenRouterConfig, opts Options) (*OpenAIProvider, error) {
	oc := cfg.OpenAIConfig
	if strings.TrimSpace(oc.BaseURL) == "" {
		oc.BaseURL = DefaultOpenRouterBaseURL
	}
	if oc.Model == "" {
		oc.Model = DefaultOpenRouterModel
	}
	if cfg.AppName == "" {
		cfg.AppName = opts.AppName
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}

	headers := http.Header{}
	headers.Set("X-Title", cfg.AppName)
	if cfg.SiteURL != "" {
		headers.Set("HTTP-Referer", cfg.SiteURL)
	}

	client := &http.Client{Timeout: oc.Timeout}
	if oc.HTTPClient != nil {
		c := *oc.HTTPClient
		client = &c
	}
	client.Transport = headerTransport{headers: headers, next: client.Transport}
	oc.HTTPClient = client

	return newOpenAIProvider("openrouter", oc, opts)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	headers http.Header
	next    http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	for key, values := range t.headers {
		req.Header[key] = values
	}
	return next.RoundTrip(req)
}
