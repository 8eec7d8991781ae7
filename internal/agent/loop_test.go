package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/speedoflight/internal/mcp"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// scriptedProvider replays canned replies and records what it was sent.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []models.Message
	errs    []error
	calls   int
	seen    [][]models.Message
	tools   [][]models.ToolDescriptor
	block   chan struct{}
	repeat  bool
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func (p *scriptedProvider) Generate(ctx context.Context, conv []models.Message, tools []models.ToolDescriptor) (models.Message, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	p.seen = append(p.seen, conv)
	p.tools = append(p.tools, tools)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return models.Message{}, p.errs[idx]
	}
	if p.repeat {
		idx = 0
	}
	if idx >= len(p.replies) {
		return models.Message{}, errors.New("script exhausted")
	}
	return p.replies[idx], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func aiReply(stop models.StopReason, blocks ...models.ContentBlock) models.Message {
	msg := models.NewMessage(models.RoleAI, blocks...)
	msg.StopReason = stop
	return msg
}

func toolUse(callID, name string) models.ToolInputRequest {
	return models.ToolInputRequest{CallID: callID, ToolName: name, Arguments: json.RawMessage(`{}`), Origin: models.OriginLocal}
}

// fakeClipboard is a local tool handler with a single clipboard_get tool.
type fakeClipboard struct {
	mu      sync.Mutex
	content string
	calls   []models.ToolInputRequest
}

func (c *fakeClipboard) Tools() []models.ToolDescriptor {
	return []models.ToolDescriptor{{Name: "clipboard_get", Description: "Read the clipboard"}}
}

func (c *fakeClipboard) Has(name string) bool { return name == "clipboard_get" }

func (c *fakeClipboard) Call(ctx context.Context, req models.ToolInputRequest) models.Message {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return models.NewMessage(models.RoleTool, models.ToolTextOutput{
		CallID:   req.CallID,
		ToolName: req.ToolName,
		Text:     "Clipboard content: <content>" + c.content + "</content>",
	})
}

// fakeRemote is a tool registry stand-in.
type fakeRemote struct {
	tools []models.ToolDescriptor
	call  func(name string, args json.RawMessage) (*mcp.ToolCallResult, error)
}

func (r *fakeRemote) Tools() []models.ToolDescriptor { return r.tools }

func (r *fakeRemote) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.ToolCallResult, error) {
	return r.call(name, args)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.AgentEvent
}

func (r *eventRecorder) Emit(ctx context.Context, e models.AgentEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []models.AgentEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AgentEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) last() models.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	runner, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return runner
}

func TestRunner_ClipboardEndToEnd(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse, models.TextBlock{Text: "Let me look."}, toolUse("call_1", "clipboard_get")),
		aiReply(models.StopEndTurn, models.TextBlock{Text: "Your clipboard says hello."}),
	}}
	clip := &fakeClipboard{content: "hello"}
	sink := &eventRecorder{}

	runner := newTestRunner(t, RunnerConfig{Provider: provider, Local: clip, Sink: sink})
	if err := runner.Run(context.Background(), Request{Text: "what's on my clipboard?"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2", provider.callCount())
	}

	second := provider.seen[1]
	if len(second) != 3 {
		t.Fatalf("second call saw %d messages, want 3", len(second))
	}
	if second[0].Role != models.RoleHuman || second[0].Text() != "what's on my clipboard?" {
		t.Errorf("first message = %+v", second[0])
	}
	toolMsg := second[2]
	if toolMsg.Role != models.RoleTool || len(toolMsg.Content) != 1 {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	out, ok := toolMsg.Content[0].(models.ToolTextOutput)
	if !ok {
		t.Fatalf("expected text output, got %T", toolMsg.Content[0])
	}
	if out.Text != "Clipboard content: <content>hello</content>" || out.CallID != "call_1" {
		t.Errorf("tool output = %+v", out)
	}

	wantTypes := []models.AgentEventType{
		models.AgentEventRunStarted,
		models.AgentEventUpdateAI,
		models.AgentEventUpdateTool,
		models.AgentEventUpdateAI,
		models.AgentEventRunCompleted,
	}
	gotTypes := sink.types()
	if strings.Join(typeStrings(gotTypes), ",") != strings.Join(typeStrings(wantTypes), ",") {
		t.Errorf("events = %v, want %v", gotTypes, wantTypes)
	}
	final := sink.last()
	if final.Response == nil || final.Response.IsError {
		t.Fatalf("final response = %+v", final.Response)
	}
	if final.Response.Message == nil || final.Response.Message.Text() != "Your clipboard says hello." {
		t.Errorf("final message = %+v", final.Response.Message)
	}
	if runner.State() != StateIdle {
		t.Errorf("State() = %v, want idle", runner.State())
	}
	if got := len(runner.History()); got != 4 {
		t.Errorf("history has %d messages, want 4", got)
	}
}

func typeStrings(types []models.AgentEventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func TestRunner_IterationCeiling(t *testing.T) {
	provider := &scriptedProvider{
		replies: []models.Message{aiReply(models.StopToolUse, toolUse("call", "clipboard_get"))},
		repeat:  true,
	}
	sink := &eventRecorder{}
	runner := newTestRunner(t, RunnerConfig{
		Provider:      provider,
		Local:         &fakeClipboard{},
		Sink:          sink,
		MaxIterations: 3,
	})

	err := runner.Run(context.Background(), Request{Text: "loop forever"})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("Run() error = %v, want ErrMaxIterations", err)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", provider.callCount())
	}

	final := sink.last()
	if final.Type != models.AgentEventRunCompleted || final.Response == nil || !final.Response.IsError {
		t.Fatalf("final event = %+v", final)
	}
	if !strings.Contains(final.Response.ErrorMessage, "stuck in a loop") {
		t.Errorf("ErrorMessage = %q", final.Response.ErrorMessage)
	}
	history := runner.History()
	if history[len(history)-1].Role != models.RoleSystemError {
		t.Errorf("last message role = %q, want system_error", history[len(history)-1].Role)
	}
}

func TestRunner_ToolOutputAlwaysAppended(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse, toolUse("call_1", "fetch")),
		aiReply(models.StopEndTurn, models.TextBlock{Text: "sorry"}),
	}}
	remote := &fakeRemote{
		tools: []models.ToolDescriptor{{Name: "fetch", Server: "web"}},
		call: func(name string, args json.RawMessage) (*mcp.ToolCallResult, error) {
			return nil, &mcp.ToolCallError{Server: "web", Tool: name, Attempts: 2, Cause: errors.New("connection reset")}
		},
	}

	runner := newTestRunner(t, RunnerConfig{Provider: provider, Tools: remote})
	if err := runner.Run(context.Background(), Request{Text: "fetch it"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	toolMsg := provider.seen[1][2]
	out, ok := toolMsg.Content[0].(models.ToolTextOutput)
	if !ok || !out.IsError {
		t.Fatalf("expected is_error output, got %+v", toolMsg.Content)
	}
	if !strings.Contains(out.Text, "connection reset") || out.CallID != "call_1" {
		t.Errorf("output = %+v", out)
	}
}

func TestRunner_RemoteResultConsolidated(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse, toolUse("call_1", "search")),
		aiReply(models.StopEndTurn),
	}}
	remote := &fakeRemote{
		tools: []models.ToolDescriptor{{Name: "search"}},
		call: func(name string, args json.RawMessage) (*mcp.ToolCallResult, error) {
			return &mcp.ToolCallResult{Content: []mcp.Content{
				{Type: "text", Text: "a"},
				{Type: "text", Text: "b"},
			}}, nil
		},
	}

	runner := newTestRunner(t, RunnerConfig{Provider: provider, Tools: remote})
	if err := runner.Run(context.Background(), Request{Text: "go"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out := provider.seen[1][2].Content[0].(models.ToolTextOutput)
	if out.Text != "a\nb" {
		t.Errorf("Text = %q, want a\\nb", out.Text)
	}
}

func TestRunner_OnlyFirstToolRuns(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse, toolUse("call_1", "clipboard_get"), toolUse("call_2", "clipboard_get")),
		aiReply(models.StopEndTurn),
	}}
	clip := &fakeClipboard{content: "x"}

	runner := newTestRunner(t, RunnerConfig{Provider: provider, Local: clip})
	if err := runner.Run(context.Background(), Request{Text: "twice"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(clip.calls) != 1 || clip.calls[0].CallID != "call_1" {
		t.Fatalf("clipboard calls = %+v", clip.calls)
	}
	toolMsg := provider.seen[1][2]
	if len(toolMsg.Content) != 2 {
		t.Fatalf("tool message has %d blocks, want 2", len(toolMsg.Content))
	}
	extra := toolMsg.Content[1].(models.ToolTextOutput)
	if extra.CallID != "call_2" || !extra.IsError {
		t.Errorf("extra request answer = %+v", extra)
	}
}

func TestRunner_RemoteServerToolsNotDispatched(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse,
			models.ToolInputRequest{CallID: "srv_1", ToolName: "web_search", Origin: models.OriginRemote},
			toolUse("call_1", "clipboard_get")),
		aiReply(models.StopEndTurn),
	}}
	clip := &fakeClipboard{}

	runner := newTestRunner(t, RunnerConfig{Provider: provider, Local: clip})
	if err := runner.Run(context.Background(), Request{Text: "search then paste"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(clip.calls) != 1 {
		t.Fatalf("clipboard calls = %d, want 1", len(clip.calls))
	}
	if got := len(provider.seen[1][2].Content); got != 1 {
		t.Errorf("tool message has %d blocks, want 1", got)
	}
}

func TestRunner_FatalProtocolStates(t *testing.T) {
	tests := []struct {
		name    string
		reply   models.Message
		wantErr error
	}{
		{"tool use without request", aiReply(models.StopToolUse, models.TextBlock{Text: "hmm"}), ErrNoToolUse},
		{"max tokens", aiReply(models.StopMaxTokens, models.TextBlock{Text: "trunc"}), ErrUnhandledStopReason},
		{"refusal", aiReply(models.StopRefusal), ErrUnhandledStopReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{replies: []models.Message{tt.reply}}
			sink := &eventRecorder{}
			runner := newTestRunner(t, RunnerConfig{Provider: provider, Sink: sink})

			err := runner.Run(context.Background(), Request{Text: "hi"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if final := sink.last(); final.Response == nil || !final.Response.IsError {
				t.Errorf("final event = %+v", final)
			}
			if runner.State() != StateIdle {
				t.Errorf("State() = %v, want idle", runner.State())
			}
		})
	}
}

func TestRunner_PauseTurnCompletes(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{aiReply(models.StopPauseTurn, models.TextBlock{Text: "…"})}}
	runner := newTestRunner(t, RunnerConfig{Provider: provider})
	if err := runner.Run(context.Background(), Request{Text: "hi"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunner_ProviderErrorThenRecovers(t *testing.T) {
	provider := &scriptedProvider{
		errs:    []error{errors.New("overloaded")},
		replies: []models.Message{{}, aiReply(models.StopEndTurn, models.TextBlock{Text: "back"})},
	}
	sink := &eventRecorder{}
	runner := newTestRunner(t, RunnerConfig{Provider: provider, Sink: sink})

	err := runner.Run(context.Background(), Request{Text: "first"})
	if err == nil {
		t.Fatal("expected error")
	}
	final := sink.last()
	if final.Response.ErrorMessage != "Error during LLM generation: overloaded" {
		t.Errorf("ErrorMessage = %q", final.Response.ErrorMessage)
	}
	if final.Response.Message == nil || final.Response.Message.Role != models.RoleSystemError {
		t.Errorf("terminal message = %+v", final.Response.Message)
	}

	if err := runner.Run(context.Background(), Request{Text: "second"}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if sink.last().Response.IsError {
		t.Error("second run should succeed")
	}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	provider := &scriptedProvider{
		replies: []models.Message{aiReply(models.StopEndTurn)},
		block:   make(chan struct{}),
	}
	runner := newTestRunner(t, RunnerConfig{Provider: provider})

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background(), Request{Text: "slow"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runner.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := runner.Run(context.Background(), Request{Text: "fast"}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent Run() error = %v, want ErrRunInProgress", err)
	}

	close(provider.block)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}

func TestRunner_CancelledRunReportsFailure(t *testing.T) {
	provider := &scriptedProvider{block: make(chan struct{})}
	sink := &eventRecorder{}
	runner := newTestRunner(t, RunnerConfig{Provider: provider, Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := runner.Run(ctx, Request{Text: "wait"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if final := sink.last(); final.Type != models.AgentEventRunCompleted || !final.Response.IsError {
		t.Errorf("final event = %+v", final)
	}
}

func TestRunner_SessionMismatch(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Provider: &scriptedProvider{}, SessionID: "a"})
	err := runner.Run(context.Background(), Request{SessionID: "b", Text: "hi"})
	if !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("Run() error = %v, want ErrSessionMismatch", err)
	}
}

func TestRunner_ToolSetLocalShadowsRemote(t *testing.T) {
	remote := &fakeRemote{tools: []models.ToolDescriptor{
		{Name: "clipboard_get", Server: "other"},
		{Name: "search", Server: "web"},
	}}
	sink := &eventRecorder{}
	runner := newTestRunner(t, RunnerConfig{
		Provider: &scriptedProvider{},
		Tools:    remote,
		Local:    &fakeClipboard{},
		Sink:     sink,
	})

	tools := runner.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %+v", tools)
	}
	if tools[0].Name != "clipboard_get" || tools[0].Server != "" {
		t.Errorf("local tool should win: %+v", tools[0])
	}

	runner.Start(context.Background())
	ready := sink.last()
	if ready.Type != models.AgentEventReady || ready.Ready.ToolCount != 2 {
		t.Errorf("ready event = %+v", ready)
	}
}

func TestNewRunner_RequiresProvider(t *testing.T) {
	if _, err := NewRunner(RunnerConfig{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("NewRunner() error = %v, want ErrNoProvider", err)
	}
}

type countingObserver struct {
	mu         sync.Mutex
	modelCalls []string
	toolCalls  []string
	runs       []string
}

func (o *countingObserver) ObserveModelCall(provider, model, status string, _ time.Duration, _ *models.Usage) {
	o.mu.Lock()
	o.modelCalls = append(o.modelCalls, status)
	o.mu.Unlock()
}

func (o *countingObserver) ObserveToolCall(tool, origin, status string, _ time.Duration) {
	o.mu.Lock()
	o.toolCalls = append(o.toolCalls, origin+":"+status)
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRun(status string, iterations int, _ time.Duration) {
	o.mu.Lock()
	o.runs = append(o.runs, status)
	o.mu.Unlock()
}

func TestRunner_ReportsMetrics(t *testing.T) {
	provider := &scriptedProvider{replies: []models.Message{
		aiReply(models.StopToolUse, toolUse("call_1", "clipboard_get")),
		aiReply(models.StopEndTurn),
	}}
	obs := &countingObserver{}
	runner := newTestRunner(t, RunnerConfig{Provider: provider, Local: &fakeClipboard{}, Metrics: obs})
	if err := runner.Run(context.Background(), Request{Text: "hi"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(obs.modelCalls) != 2 {
		t.Errorf("model calls = %v", obs.modelCalls)
	}
	if len(obs.toolCalls) != 1 || obs.toolCalls[0] != "local:success" {
		t.Errorf("tool calls = %v", obs.toolCalls)
	}
	if len(obs.runs) != 1 || obs.runs[0] != "success" {
		t.Errorf("runs = %v", obs.runs)
	}
}
