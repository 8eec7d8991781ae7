package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/speedoflight/internal/agent/toolconv"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// Anthropic defaults.
const (
	DefaultAnthropicModel     = "claude-sonnet-4-20250514"
	DefaultAnthropicMaxTokens = 4096
	// Smallest thinking budget the API accepts.
	MinThinkingBudget = 1024
)

// Names of tools executed by Anthropic or given native definitions.
const (
	computerToolName  = "computer"
	webSearchToolName = "web_search"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// Temperature is ignored while thinking is enabled.
	Temperature *float64

	EnableThinking bool
	ThinkingBudget int

	EnableWebSearch bool
	// EnableComputerUse replaces the local "computer" tool descriptor with
	// Anthropic's native computer tool sized to Options.Display.
	EnableComputerUse bool

	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// AnthropicProvider calls the Anthropic beta Messages API.
type AnthropicProvider struct {
	base
	client anthropic.Client
	cfg    AnthropicConfig
	screen Display
}

// NewAnthropicProvider validates cfg and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig, opts Options) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAnthropicMaxTokens
	}
	if cfg.EnableThinking {
		cfg.ThinkingBudget = max(cfg.ThinkingBudget, MinThinkingBudget)
		if cfg.MaxTokens <= cfg.ThinkingBudget {
			cfg.MaxTokens = cfg.ThinkingBudget + DefaultAnthropicMaxTokens
		}
	}
	if cfg.EnableComputerUse && (opts.Display.Width <= 0 || opts.Display.Height <= 0) {
		return nil, errors.New("anthropic: computer use needs a display size")
	}

	b, err := newBase("anthropic", cfg.Model, cfg.MaxAttempts, opts)
	if err != nil {
		return nil, err
	}

	// Retries happen in retry() so they are classified and logged once.
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicProvider{
		base:   b,
		client: anthropic.NewClient(reqOpts...),
		cfg:    cfg,
		screen: opts.Display,
	}, nil
}

// Generate sends the conversation and converts the reply.
func (p *AnthropicProvider) Generate(ctx context.Context, history []models.Message, tools []models.ToolDescriptor) (models.Message, error) {
	params, err := p.params(history, tools)
	if err != nil {
		return models.Message{}, err
	}

	reply, err := retry(ctx, &p.base, func(ctx context.Context) (*anthropic.BetaMessage, error) {
		var resp *http.Response
		msg, err := p.client.Beta.Messages.New(ctx, params, option.WithResponseInto(&resp))
		if err != nil {
			return nil, p.wrapError(err)
		}
		p.logRateLimits(resp, msg.Usage)
		return msg, nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return p.FromNative(reply), nil
}

func (p *AnthropicProvider) params(history []models.Message, tools []models.ToolDescriptor) (anthropic.BetaMessageNewParams, error) {
	nativeTools, betas, err := p.tools(tools)
	if err != nil {
		return anthropic.BetaMessageNewParams{}, err
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages:  p.ToNative(history),
		Tools:     nativeTools,
		Betas:     betas,
	}
	if prompt := p.systemPrompt(); prompt != "" {
		params.System = []anthropic.BetaTextBlockParam{{Text: prompt}}
	}
	if len(nativeTools) > 0 {
		params.ToolChoice = anthropic.BetaToolChoiceUnionParam{
			OfAuto: &anthropic.BetaToolChoiceAutoParam{DisableParallelToolUse: anthropic.Bool(true)},
		}
	}
	if p.cfg.EnableThinking {
		params.Thinking = anthropic.BetaThinkingConfigParamOfEnabled(int64(p.cfg.ThinkingBudget))
	} else if p.cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*p.cfg.Temperature)
	}
	return params, nil
}

// tools converts descriptors and adds the provider-executed tools.
func (p *AnthropicProvider) tools(tools []models.ToolDescriptor) ([]anthropic.BetaToolUnionParam, []anthropic.AnthropicBeta, error) {
	var (
		result []anthropic.BetaToolUnionParam
		betas  []anthropic.AnthropicBeta
	)
	for _, tool := range tools {
		if tool.Name == computerToolName && p.cfg.EnableComputerUse {
			continue
		}
		param, err := toolconv.ToAnthropicBetaTool(tool)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: %w", err)
		}
		result = append(result, param)
	}
	if p.cfg.EnableWebSearch {
		result = append(result, anthropic.BetaToolUnionParam{
			OfWebSearchTool20250305: &anthropic.BetaWebSearchTool20250305Param{},
		})
	}
	if p.cfg.EnableComputerUse {
		result = append(result, anthropic.BetaToolUnionParamOfComputerUseTool20250124(int64(p.screen.Height), int64(p.screen.Width)))
		betas = append(betas, anthropic.AnthropicBetaComputerUse2025_01_24)
	}
	return result, betas, nil
}

// ToNative converts the history to Anthropic message params. Replies that
// came from this adapter are replayed verbatim so thinking signatures and
// server tool blocks survive. System-error entries are never sent.
func (p *AnthropicProvider) ToNative(history []models.Message) []anthropic.BetaMessageParam {
	result := make([]anthropic.BetaMessageParam, 0, len(history))
	for _, msg := range history {
		if native, ok := msg.Native.(anthropic.BetaMessageParam); ok {
			result = append(result, native)
			continue
		}

		var role anthropic.BetaMessageParamRole
		switch msg.Role {
		case models.RoleHuman, models.RoleTool:
			role = anthropic.BetaMessageParamRoleUser
		case models.RoleAI:
			role = anthropic.BetaMessageParamRoleAssistant
		default:
			continue
		}

		var content []anthropic.BetaContentBlockParamUnion
		for _, block := range msg.Content {
			if param, ok := p.blockToNative(block); ok {
				content = append(content, param)
			}
		}
		if len(content) == 0 {
			p.logger.Warn("message has no content supported by anthropic", "message_id", msg.ID, "role", msg.Role)
			continue
		}
		result = append(result, anthropic.BetaMessageParam{Role: role, Content: content})
	}
	return result
}

func (p *AnthropicProvider) blockToNative(block models.ContentBlock) (anthropic.BetaContentBlockParamUnion, bool) {
	switch b := block.(type) {
	case models.TextBlock:
		if b.Text == "" {
			return anthropic.BetaContentBlockParamUnion{}, false
		}
		return anthropic.NewBetaTextBlock(b.Text), true
	case models.ThinkingBlock:
		if b.Signature == "" {
			return anthropic.BetaContentBlockParamUnion{}, false
		}
		return anthropic.BetaContentBlockParamUnion{
			OfThinking: &anthropic.BetaThinkingBlockParam{Thinking: b.Text, Signature: b.Signature},
		}, true
	case models.ToolInputRequest:
		if b.Origin == models.OriginRemote {
			return anthropic.BetaContentBlockParamUnion{}, false
		}
		return anthropic.NewBetaToolUseBlock(b.CallID, json.RawMessage(requestArguments(b.Arguments)), b.ToolName), true
	case models.ToolTextOutput:
		result := anthropic.BetaToolResultBlockParam{
			ToolUseID: b.CallID,
			IsError:   anthropic.Bool(b.IsError),
			Content: []anthropic.BetaToolResultBlockParamContentUnion{
				{OfText: &anthropic.BetaTextBlockParam{Text: b.Text}},
			},
		}
		return anthropic.BetaContentBlockParamUnion{OfToolResult: &result}, true
	case models.ToolImageOutput:
		mediaType, ok := anthropicMediaType(b.MimeType)
		if !ok {
			p.logger.Warn("unsupported image type", "mime_type", b.MimeType)
			return anthropic.BetaContentBlockParamUnion{}, false
		}
		result := anthropic.BetaToolResultBlockParam{
			ToolUseID: b.CallID,
			IsError:   anthropic.Bool(b.IsError),
			Content: []anthropic.BetaToolResultBlockParamContentUnion{{
				OfImage: &anthropic.BetaImageBlockParam{
					Source: anthropic.BetaImageBlockParamSourceUnion{
						OfBase64: &anthropic.BetaBase64ImageSourceParam{
							Data:      base64.StdEncoding.EncodeToString(b.Data),
							MediaType: mediaType,
						},
					},
				},
			}},
		}
		return anthropic.BetaContentBlockParamUnion{OfToolResult: &result}, true
	default:
		p.logger.Warn("unsupported content block", "type", block.BlockType())
		return anthropic.BetaContentBlockParamUnion{}, false
	}
}

func anthropicMediaType(mime string) (anthropic.BetaBase64ImageSourceMediaType, bool) {
	switch strings.ToLower(mime) {
	case "image/png":
		return anthropic.BetaBase64ImageSourceMediaTypeImagePNG, true
	case "image/jpeg", "image/jpg":
		return anthropic.BetaBase64ImageSourceMediaTypeImageJPEG, true
	case "image/gif":
		return anthropic.BetaBase64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.BetaBase64ImageSourceMediaTypeImageWebP, true
	}
	return "", false
}

// anthropicBlock is the wire form of a reply content block. Decoding the
// raw JSON keeps variant handling independent of SDK union layout.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Signature string          `json:"signature"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

type webSearchError struct {
	Type      string `json:"type"`
	ErrorCode string `json:"error_code"`
}

// FromNative converts a reply. The native param form is kept on the
// message for replay.
func (p *AnthropicProvider) FromNative(msg *anthropic.BetaMessage) models.Message {
	out := models.NewMessage(models.RoleAI)
	out.Model = string(msg.Model)
	out.StopReason = p.stopReason(string(msg.StopReason))
	out.Usage = &models.Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}

	for _, raw := range msg.Content {
		var block anthropicBlock
		if err := json.Unmarshal([]byte(raw.RawJSON()), &block); err != nil {
			p.logger.Warn("undecodable content block", "type", raw.Type, "error", err)
			continue
		}
		switch block.Type {
		case "text":
			out.Content = append(out.Content, models.TextBlock{Text: block.Text})
		case "thinking":
			out.Content = append(out.Content, models.ThinkingBlock{Text: block.Thinking, Signature: block.Signature})
		case "tool_use":
			out.Content = append(out.Content, models.ToolInputRequest{
				CallID: block.ID, ToolName: block.Name, Arguments: p.replyArguments(block.Name, block.Input), Origin: models.OriginLocal,
			})
		case "server_tool_use":
			out.Content = append(out.Content, models.ToolInputRequest{
				CallID: block.ID, ToolName: block.Name, Arguments: p.replyArguments(block.Name, block.Input), Origin: models.OriginRemote,
			})
		case "web_search_tool_result":
			out.Content = append(out.Content, webSearchOutput(block))
		case "redacted_thinking":
			// Only meaningful to the API; kept through native replay.
		default:
			p.logger.Warn("unsupported content block", "type", block.Type)
		}
	}
	return p.finish(out, msg.ToParam())
}

func webSearchOutput(block anthropicBlock) models.ToolTextOutput {
	out := models.ToolTextOutput{CallID: block.ToolUseID, ToolName: webSearchToolName, Text: string(block.Content)}
	var searchErr webSearchError
	if json.Unmarshal(block.Content, &searchErr) == nil && searchErr.ErrorCode != "" {
		out.Text = searchErr.ErrorCode
		out.IsError = true
	}
	return out
}

func (p *AnthropicProvider) stopReason(reason string) models.StopReason {
	switch r := models.StopReason(reason); r {
	case models.StopEndTurn, models.StopMaxTokens, models.StopStopSequence,
		models.StopToolUse, models.StopPauseTurn, models.StopRefusal:
		return r
	}
	p.logger.Warn("unsupported stop reason, treating as end_turn", "stop_reason", reason)
	return models.StopEndTurn
}

// Rate limit response headers.
const (
	headerRetryAfter      = "retry-after"
	headerTokensLimit     = "anthropic-ratelimit-tokens-limit"
	headerTokensRemaining = "anthropic-ratelimit-tokens-remaining"
	headerTokensReset     = "anthropic-ratelimit-tokens-reset"
)

// logRateLimits reports token usage and the remaining rate-limit budget.
// Missing or malformed headers are logged and otherwise ignored.
func (p *AnthropicProvider) logRateLimits(resp *http.Response, usage anthropic.BetaUsage) {
	p.logger.Info("token usage", "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	if resp == nil {
		return
	}
	if retryAfter := resp.Header.Get(headerRetryAfter); retryAfter != "" {
		p.logger.Info("rate limit retry after", "seconds", retryAfter)
	}
	limitHeader := resp.Header.Get(headerTokensLimit)
	if limitHeader == "" {
		return
	}
	limit, err := strconv.Atoi(limitHeader)
	if err != nil {
		p.logger.Error("parse rate limit header", "header", headerTokensLimit, "error", err)
		return
	}
	remaining, err := strconv.Atoi(resp.Header.Get(headerTokensRemaining))
	if err != nil {
		p.logger.Error("parse rate limit header", "header", headerTokensRemaining, "error", err)
		return
	}
	reset, err := time.Parse(time.RFC3339, resp.Header.Get(headerTokensReset))
	if err != nil {
		p.logger.Error("parse rate limit header", "header", headerTokensReset, "error", err)
		return
	}
	percent := 0.0
	if limit > 0 {
		percent = float64(remaining) / float64(limit) * 100
	}
	p.logger.Info("rate limit",
		"tokens_remaining_pct", fmt.Sprintf("%.2f", percent),
		"reset_in", reset.Sub(p.now()).Round(time.Millisecond),
	)
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return newProviderError(p.name, p.model, err)
	}

	perr := newProviderError(p.name, p.model, err).withStatus(apiErr.StatusCode)
	perr.RequestID = apiErr.RequestID
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		perr.Message = payload.Error.Message
		if payload.Error.Type != "" {
			perr.withCode(payload.Error.Type)
		}
		if payload.RequestID != "" {
			perr.RequestID = payload.RequestID
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(apiErr.StatusCode)
	}
	return perr
}
