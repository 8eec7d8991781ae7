package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/haasonsaas/speedoflight/internal/agent/toolconv"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// DefaultGoogleModel is used when the config names no model.
const DefaultGoogleModel = "gemini-2.5-flash"

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64

	// EnableThinking asks for thought summaries; ThinkingBudget caps them.
	EnableThinking bool
	ThinkingBudget int

	// EnableWebSearch adds Google Search grounding.
	EnableWebSearch bool

	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// GoogleProvider implements agent.Provider using the Gemini API through
// the google.golang.org/genai SDK.
//
// Gemini does not assign ids to function calls, so the adapter generates
// them and maps results back by tool name. Model replies keep their
// *genai.Content in Message.Native so thought signatures are replayed.
type GoogleProvider struct {
	base
	client *genai.Client
	cfg    GoogleConfig
}

// NewGoogleProvider creates the SDK client. No request is made.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig, opts Options) (*GoogleProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGoogleModel
	}
	b, err := newBase("google", cfg.Model, cfg.MaxAttempts, opts)
	if err != nil {
		return nil, err
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPOptions.Timeout = &cfg.Timeout
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleProvider{base: b, client: client, cfg: cfg}, nil
}

// Generate sends the conversation and converts the first candidate.
func (p *GoogleProvider) Generate(ctx context.Context, history []models.Message, tools []models.ToolDescriptor) (models.Message, error) {
	contents := p.ToNative(history)
	config := p.config(tools)

	resp, err := retry(ctx, &p.base, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
		if err != nil {
			return nil, p.wrapError(err)
		}
		return resp, nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return p.FromNative(resp)
}

func (p *GoogleProvider) config(tools []models.ToolDescriptor) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{Tools: toolconv.ToGeminiTools(tools)}
	if prompt := p.systemPrompt(); prompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt}}}
	}
	if p.cfg.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(p.cfg.MaxTokens, math.MaxInt32))
	}
	if p.cfg.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.cfg.Temperature))
	}
	if p.cfg.EnableThinking {
		thinking := &genai.ThinkingConfig{IncludeThoughts: true}
		if p.cfg.ThinkingBudget > 0 {
			// #nosec G115 -- bounded by min
			thinking.ThinkingBudget = genai.Ptr(int32(min(p.cfg.ThinkingBudget, math.MaxInt32)))
		}
		config.ThinkingConfig = thinking
	}
	if p.cfg.EnableWebSearch {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return config
}

// ToNative converts the history to Gemini contents. Tool results travel
// on the user side as function responses; images follow as inline data.
func (p *GoogleProvider) ToNative(history []models.Message) []*genai.Content {
	names := toolNames(history)
	result := make([]*genai.Content, 0, len(history))

	for _, msg := range history {
		if native, ok := msg.Native.(*genai.Content); ok && native != nil {
			result = append(result, native)
			continue
		}

		var content *genai.Content
		switch msg.Role {
		case models.RoleHuman:
			content = &genai.Content{Role: genai.RoleUser}
		case models.RoleAI:
			content = &genai.Content{Role: genai.RoleModel}
		case models.RoleTool:
			content = &genai.Content{Role: genai.RoleUser}
		default:
			continue
		}

		for _, block := range msg.Content {
			switch b := block.(type) {
			case models.TextBlock:
				if b.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				}
			case models.ToolInputRequest:
				if b.Origin == models.OriginRemote {
					continue
				}
				var args map[string]any
				if err := json.Unmarshal(requestArguments(b.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.ToolName, Args: args},
				})
			case models.ToolTextOutput:
				response := map[string]any{"output": b.Text}
				if b.IsError {
					response = map[string]any{"error": b.Text}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolName(names, b.CallID, b.ToolName),
						Response: response,
					},
				})
			case models.ToolImageOutput:
				content.Parts = append(content.Parts,
					&genai.Part{FunctionResponse: &genai.FunctionResponse{
						Name:     toolName(names, b.CallID, b.ToolName),
						Response: map[string]any{"output": fmt.Sprintf("Returned an %s image, attached below.", b.MimeType)},
					}},
					&genai.Part{InlineData: &genai.Blob{MIMEType: b.MimeType, Data: b.Data}},
				)
			case models.ThinkingBlock:
				// Only valid with its signature, which lives on the native form.
			default:
				p.logger.Warn("unsupported content block", "type", block.BlockType())
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

// FromNative converts the first candidate of a response.
func (p *GoogleProvider) FromNative(resp *genai.GenerateContentResponse) (models.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return models.Message{}, &ProviderError{
			Reason: ReasonUnknown, Provider: p.name, Model: p.model, Message: "response has no candidates",
		}
	}
	candidate := resp.Candidates[0]

	out := models.NewMessage(models.RoleAI)
	out.Model = resp.ModelVersion
	if usage := resp.UsageMetadata; usage != nil {
		out.Usage = &models.Usage{InputTokens: int(usage.PromptTokenCount), OutputTokens: int(usage.CandidatesTokenCount)}
		p.logger.Info("token usage", "input_tokens", usage.PromptTokenCount, "output_tokens", usage.CandidatesTokenCount)
	}

	hasCalls := false
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part == nil:
			case part.Thought && part.Text != "":
				out.Content = append(out.Content, models.ThinkingBlock{Text: part.Text})
			case part.Text != "":
				out.Content = append(out.Content, models.TextBlock{Text: part.Text})
			case part.FunctionCall != nil:
				hasCalls = true
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.NewString()
				}
				out.Content = append(out.Content, models.ToolInputRequest{
					CallID: id, ToolName: part.FunctionCall.Name, Arguments: p.replyArguments(part.FunctionCall.Name, args), Origin: models.OriginLocal,
				})
			}
		}
	}
	out.StopReason = p.stopReason(candidate.FinishReason, hasCalls)

	var native any
	if candidate.Content != nil {
		native = candidate.Content
	}
	return p.finish(out, native), nil
}

func (p *GoogleProvider) stopReason(reason genai.FinishReason, hasCalls bool) models.StopReason {
	if hasCalls {
		return models.StopToolUse
	}
	switch reason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified, "":
		return models.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return models.StopMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return models.StopRefusal
	}
	p.logger.Warn("unsupported finish reason, treating as end_turn", "finish_reason", reason)
	return models.StopEndTurn
}

func (p *GoogleProvider) wrapError(err error) error {
	if _, ok := AsProviderError(err); ok {
		return err
	}
	perr := newProviderError(p.name, p.model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		perr.Message = apiErr.Message
		perr.withStatus(apiErr.Code)
		if apiErr.Status != "" {
			perr.withCode(apiErr.Status)
		}
		return perr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		perr.withStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		perr.withStatus(http.StatusForbidden)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		perr.withStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "503"):
		perr.withStatus(http.StatusServiceUnavailable)
	case strings.Contains(msg, "500"):
		perr.withStatus(http.StatusInternalServerError)
	}
	return perr
}
