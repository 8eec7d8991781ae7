package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/speedoflight/internal/agent/toolconv"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// DefaultOpenAIModel is used when the config names no model.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI adapter. BaseURL may point at any
// Chat Completions compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// OpenAIProvider implements agent.Provider on the Chat Completions API.
//
// Differences from the Anthropic adapter worth knowing when reading the
// conversion code:
//   - the system prompt is the first message rather than a request field
//   - every tool result is its own message with role "tool"
//   - tool messages cannot carry images, so image results are sent as a
//     follow-up user message after the tool messages of that turn
//
// Replies keep their openai.ChatCompletionMessage form in Message.Native and
// are replayed as-is.
type OpenAIProvider struct {
	base
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a client from cfg.
func NewOpenAIProvider(cfg OpenAIConfig, opts Options) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return newOpenAIProvider("openai", cfg, opts)
}

func newOpenAIProvider(name string, cfg OpenAIConfig, opts Options) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}
	b, err := newBase(name, cfg.Model, cfg.MaxAttempts, opts)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	switch {
	case cfg.HTTPClient != nil:
		clientCfg.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIProvider{
		base:   b,
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Generate sends the conversation and converts the reply.
func (p *OpenAIProvider) Generate(ctx context.Context, history []models.Message, tools []models.ToolDescriptor) (models.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.cfg.Model,
		Messages: p.ToNative(history),
		Tools:    toolconv.ToOpenAITools(tools),
	}
	if p.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = p.cfg.MaxTokens
	}
	if p.cfg.Temperature != nil {
		req.Temperature = float32(*p.cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		req.ParallelToolCalls = false
	}

	resp, err := retry(ctx, &p.base, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, p.wrapError(err)
		}
		return resp, nil
	})
	if err != nil {
		return models.Message{}, err
	}
	p.logger.Info("token usage", "input_tokens", resp.Usage.PromptTokens, "output_tokens", resp.Usage.CompletionTokens)
	return p.FromNative(resp)
}

// ToNative converts the history to Chat Completions messages, starting
// with the system prompt.
func (p *OpenAIProvider) ToNative(history []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if prompt := p.systemPrompt(); prompt != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}

	for _, msg := range history {
		if native, ok := msg.Native.(openai.ChatCompletionMessage); ok {
			result = append(result, native)
			continue
		}
		switch msg.Role {
		case models.RoleHuman:
			if text := msg.Text(); text != "" {
				result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}
		case models.RoleAI:
			if native, ok := p.assistantToNative(msg); ok {
				result = append(result, native)
			}
		case models.RoleTool:
			result = append(result, p.toolResultsToNative(msg)...)
		}
	}
	return result
}

func (p *OpenAIProvider) assistantToNative(msg models.Message) (openai.ChatCompletionMessage, bool) {
	native := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
	for _, req := range msg.ToolInputs() {
		native.ToolCalls = append(native.ToolCalls, openai.ToolCall{
			ID:   req.CallID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      req.ToolName,
				Arguments: string(requestArguments(req.Arguments)),
			},
		})
	}
	return native, native.Content != "" || len(native.ToolCalls) > 0
}

func (p *OpenAIProvider) toolResultsToNative(msg models.Message) []openai.ChatCompletionMessage {
	var (
		results []openai.ChatCompletionMessage
		images  []openai.ChatMessagePart
	)
	for _, block := range msg.Content {
		switch b := block.(type) {
		case models.ToolTextOutput:
			text := b.Text
			if b.IsError {
				text = "Error: " + text
			}
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: b.CallID,
				Content:    text,
			})
		case models.ToolImageOutput:
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: b.CallID,
				Content:    fmt.Sprintf("The %s tool returned an image (%s); it follows in the next message.", b.ToolName, b.MimeType),
			})
			images = append(images, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + b.MimeType + ";base64," + base64.StdEncoding.EncodeToString(b.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		default:
			p.logger.Warn("unsupported content block in tool message", "type", block.BlockType())
		}
	}
	if len(images) > 0 {
		parts := append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: "Tool output image:"}}, images...)
		results = append(results, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
	}
	return results
}

// FromNative converts the first choice of a completion.
func (p *OpenAIProvider) FromNative(resp openai.ChatCompletionResponse) (models.Message, error) {
	if len(resp.Choices) == 0 {
		return models.Message{}, &ProviderError{
			Reason: ReasonUnknown, Provider: p.name, Model: p.model, Message: "response has no choices",
		}
	}
	choice := resp.Choices[0]

	out := models.NewMessage(models.RoleAI)
	out.Model = resp.Model
	out.Usage = &models.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.TextBlock{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, models.ToolInputRequest{
			CallID:    call.ID,
			ToolName:  call.Function.Name,
			Arguments: p.replyArguments(call.Function.Name, []byte(call.Function.Arguments)),
			Origin:    models.OriginLocal,
		})
	}
	out.StopReason = p.stopReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0)
	return p.finish(out, choice.Message), nil
}

func (p *OpenAIProvider) stopReason(reason openai.FinishReason, hasToolCalls bool) models.StopReason {
	if hasToolCalls {
		return models.StopToolUse
	}
	switch reason {
	case openai.FinishReasonStop, openai.FinishReasonNull, "":
		return models.StopEndTurn
	case openai.FinishReasonLength:
		return models.StopMaxTokens
	case openai.FinishReasonContentFilter:
		return models.StopRefusal
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.StopToolUse
	}
	p.logger.Warn("unsupported finish reason, treating as end_turn", "finish_reason", reason)
	return models.StopEndTurn
}

func (p *OpenAIProvider) wrapError(err error) error {
	perr := newProviderError(p.name, p.model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr.Message = apiErr.Message
		perr.withStatus(apiErr.HTTPStatusCode)
		if apiErr.Type != "" {
			perr.withCode(apiErr.Type)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			perr.withCode(code)
		}
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		perr.withStatus(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			perr.Message = reqErr.Err.Error()
		}
	}
	return perr
}
