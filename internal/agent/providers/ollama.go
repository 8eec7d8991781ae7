package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/speedoflight/internal/agent/toolconv"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// Ollama defaults.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.1"
	defaultOllamaTimeout = 5 * time.Minute
)

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// OllamaProvider talks to a local Ollama server's /api/chat endpoint.
type OllamaProvider struct {
	base
	client  *http.Client
	baseURL string
	cfg     OllamaConfig
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg OllamaConfig, opts Options) (*OllamaProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	b, err := newBase("ollama", cfg.Model, cfg.MaxAttempts, opts)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{base: b, client: client, baseURL: baseURL, cfg: cfg}, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Model           string             `json:"model"`
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ollamaImageNotice replaces image tool output, which Ollama tool messages
// cannot carry.
const ollamaImageNotice = "Image generated (%s) and already shown to the user."

// Generate sends a non-streaming chat request.
func (p *OllamaProvider) Generate(ctx context.Context, history []models.Message, tools []models.ToolDescriptor) (models.Message, error) {
	payload := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: p.toNative(history),
		Tools:    toolconv.ToOpenAITools(tools),
	}
	options := map[string]any{}
	if p.cfg.MaxTokens > 0 {
		options["num_predict"] = p.cfg.MaxTokens
	}
	if p.cfg.Temperature != nil {
		options["temperature"] = *p.cfg.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.Message{}, newProviderError(p.name, p.model, fmt.Errorf("marshal request: %w", err))
	}

	resp, err := retry(ctx, &p.base, func(ctx context.Context) (ollamaChatResponse, error) {
		return p.post(ctx, body)
	})
	if err != nil {
		return models.Message{}, err
	}
	p.logger.Info("token usage", "input_tokens", resp.PromptEvalCount, "output_tokens", resp.EvalCount)
	return p.fromNative(resp)
}

func (p *OllamaProvider) post(ctx context.Context, body []byte) (ollamaChatResponse, error) {
	var out ollamaChatResponse

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return out, newProviderError(p.name, p.model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return out, newProviderError(p.name, p.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if err != nil {
			return out, newProviderError(p.name, p.model, fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, err)).withStatus(resp.StatusCode)
		}
		perr := newProviderError(p.name, p.model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).withStatus(resp.StatusCode)
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(errBody, &payload) == nil && payload.Error != "" {
			perr.Message = payload.Error
		}
		return out, perr
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, newProviderError(p.name, p.model, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return out, newProviderError(p.name, p.model, errors.New(out.Error))
	}
	return out, nil
}

// toNative converts the history to Ollama chat messages. Ollama matches
// tool results by tool name, so call ids are resolved through the history.
func (p *OllamaProvider) toNative(history []models.Message) []ollamaChatMessage {
	names := toolNames(history)
	messages := make([]ollamaChatMessage, 0, len(history)+1)
	if prompt := p.systemPrompt(); prompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: prompt})
	}

	for _, msg := range history {
		if native, ok := msg.Native.(ollamaChatMessage); ok {
			messages = append(messages, native)
			continue
		}
		switch msg.Role {
		case models.RoleHuman:
			messages = append(messages, ollamaChatMessage{Role: "user", Content: msg.Text()})
		case models.RoleAI:
			out := ollamaChatMessage{Role: "assistant", Content: msg.Text()}
			for _, req := range msg.ToolInputs() {
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					Function: ollamaToolFunction{Name: req.ToolName, Arguments: requestArguments(req.Arguments)},
				})
			}
			messages = append(messages, out)
		case models.RoleTool:
			for _, block := range msg.Content {
				switch b := block.(type) {
				case models.ToolTextOutput:
					messages = append(messages, ollamaChatMessage{Role: "tool", Content: b.Text, ToolName: toolName(names, b.CallID, b.ToolName)})
				case models.ToolImageOutput:
					messages = append(messages, ollamaChatMessage{
						Role:     "tool",
						Content:  fmt.Sprintf(ollamaImageNotice, b.MimeType),
						ToolName: toolName(names, b.CallID, b.ToolName),
					})
				default:
					p.logger.Warn("unsupported content block in tool message", "type", block.BlockType())
				}
			}
		}
	}
	return messages
}

func toolName(names map[string]string, callID, fallback string) string {
	if name, ok := names[callID]; ok {
		return name
	}
	return fallback
}

// fromNative converts a chat response. Ollama does not assign call ids, so
// each tool call gets a fresh one.
func (p *OllamaProvider) fromNative(resp ollamaChatResponse) (models.Message, error) {
	if resp.Message == nil {
		return models.Message{}, &ProviderError{
			Reason: ReasonUnknown, Provider: p.name, Model: p.model, Message: "response has no message",
		}
	}
	out := models.NewMessage(models.RoleAI)
	out.Model = resp.Model
	out.Usage = &models.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}

	if resp.Message.Thinking != "" {
		out.Content = append(out.Content, models.ThinkingBlock{Text: resp.Message.Thinking})
	}
	if resp.Message.Content != "" {
		out.Content = append(out.Content, models.TextBlock{Text: resp.Message.Content})
	}
	for _, tc := range resp.Message.ToolCalls {
		out.Content = append(out.Content, models.ToolInputRequest{
			CallID:    uuid.NewString(),
			ToolName:  strings.TrimSpace(tc.Function.Name),
			Arguments: p.replyArguments(tc.Function.Name, tc.Function.Arguments),
			Origin:    models.OriginLocal,
		})
	}

	switch {
	case len(resp.Message.ToolCalls) > 0:
		out.StopReason = models.StopToolUse
	case resp.DoneReason == "length":
		out.StopReason = models.StopMaxTokens
	default:
		if resp.DoneReason != "" && resp.DoneReason != "stop" {
			p.logger.Warn("unsupported done reason, treating as end_turn", "done_reason", resp.DoneReason)
		}
		out.StopReason = models.StopEndTurn
	}
	return p.finish(out, *resp.Message), nil
}
