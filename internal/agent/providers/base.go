// Package providers adapts model provider APIs to agent.Provider.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/haasonsaas/speedoflight/internal/backoff"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// DefaultAppName is substituted into the system prompt.
const DefaultAppName = "Speed of Light"

// DefaultSystemPrompt is rendered with the application name and today's
// date.
const DefaultSystemPrompt = `You are {{.AppName}}, an assistant running on the user's desktop.
Today's date is {{.Today}}.
Use the available tools when they help answer the request. Call at most one tool at a time and wait for its result before deciding what to do next.
If a required tool argument is missing, ask the user for it instead of guessing.`

// DefaultMaxAttempts is how many times a transient provider failure is
// tried in total.
const DefaultMaxAttempts = 3

// Display is the screen size offered to providers with a native computer
// tool.
type Display struct {
	Width  int
	Height int
}

// Options carries dependencies shared by all adapters.
type Options struct {
	AppName      string
	SystemPrompt string

	// Display sizes the native computer tool. Zero disables it.
	Display Display

	Logger *slog.Logger
	Now    func() time.Time

	// RetryPolicy spaces attempts after transient failures. Zero uses
	// backoff.Exponential().
	RetryPolicy backoff.Policy
}

// base holds what every adapter shares: identity, prompt rendering and
// retries.
type base struct {
	name     string
	model    string
	attempts int
	policy   backoff.Policy
	prompt   *template.Template
	appName  string
	now      func() time.Time
	logger   *slog.Logger
}

func newBase(name, model string, attempts int, opts Options) (base, error) {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	if opts.RetryPolicy == (backoff.Policy{}) {
		opts.RetryPolicy = backoff.Exponential()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}
	text := opts.SystemPrompt
	if strings.TrimSpace(text) == "" {
		text = DefaultSystemPrompt
	}
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return base{}, fmt.Errorf("%s: parse system prompt: %w", name, err)
	}
	return base{
		name:     name,
		model:    model,
		attempts: attempts,
		policy:   opts.RetryPolicy,
		prompt:   tmpl,
		appName:  opts.AppName,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "provider", "provider", name, "model", model),
	}, nil
}

func (b *base) Name() string  { return b.name }
func (b *base) Model() string { return b.model }

// systemPrompt renders the prompt for the current day.
func (b *base) systemPrompt() string {
	var buf bytes.Buffer
	data := struct {
		AppName string
		Today   string
	}{
		AppName: b.appName,
		Today:   b.now().Format("January 2, 2006"),
	}
	if err := b.prompt.Execute(&buf, data); err != nil {
		b.logger.Error("render system prompt", "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// retry runs fn until it succeeds, fails permanently, or attempts run out.
func retry[T any](ctx context.Context, b *base, fn func(ctx context.Context) (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, b.policy, b.attempts, func(ctx context.Context, _ int) (T, error) {
		v, err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, func(attempt int, err error, wait time.Duration) {
		b.logger.Warn("provider request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	return res.Value, err
}

// finish stamps identity fields on a converted reply.
func (b *base) finish(msg models.Message, native any) models.Message {
	msg.Role = models.RoleAI
	msg.Provider = b.name
	if msg.Model == "" {
		msg.Model = b.model
	}
	msg.Native = native
	return msg
}

// toolNames maps call ids to tool names across the history.
func toolNames(history []models.Message) map[string]string {
	names := map[string]string{}
	for _, msg := range history {
		for _, block := range msg.Content {
			if req, ok := block.(models.ToolInputRequest); ok {
				names[req.CallID] = req.ToolName
			}
		}
	}
	return names
}

// replyArguments is arguments for a tool call read from a provider reply.
func (b *base) replyArguments(tool string, raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !json.Valid(trimmed) {
		b.logger.Warn("malformed tool arguments", "tool", tool, "arguments", string(raw))
	}
	return models.CanonicalArguments(raw)
}

// requestArguments is arguments for a tool call replayed to a provider,
// which accepts only objects.
func requestArguments(raw []byte) []byte {
	args := models.CanonicalArguments(raw)
	if args[0] != '{' {
		return []byte("{}")
	}
	return args
}
