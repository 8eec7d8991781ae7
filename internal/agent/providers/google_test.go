package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

func newTestGoogle(t *testing.T, baseURL string, mutate func(*GoogleConfig)) *GoogleProvider {
	t.Helper()
	cfg := GoogleConfig{APIKey: "g-key", BaseURL: baseURL}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewGoogleProvider(context.Background(), cfg, testOptions())
	if err != nil {
		t.Fatalf("NewGoogleProvider() error = %v", err)
	}
	return p
}

func TestNewGoogleProvider(t *testing.T) {
	if _, err := NewGoogleProvider(context.Background(), GoogleConfig{}, Options{}); err == nil || !strings.Contains(err.Error(), "API key is required") {
		t.Fatalf("err = %v", err)
	}
	p := newTestGoogle(t, "", nil)
	if p.Name() != "google" || p.Model() != DefaultGoogleModel {
		t.Fatalf("provider = %s/%s", p.Name(), p.Model())
	}
}

func TestGoogleGenerate(t *testing.T) {
	server, requests, _ := jsonServer(t, reply(http.StatusOK, `{
	  "candidates": [{
	    "content": {"role": "model", "parts": [
	      {"text": "planning", "thought": true},
	      {"functionCall": {"name": "clipboard_set", "args": {"text": "hi"}}}
	    ]},
	    "finishReason": "STOP"
	  }],
	  "usageMetadata": {"promptTokenCount": 11, "candidatesTokenCount": 3},
	  "modelVersion": "gemini-2.5-flash-001"
	}`))
	p := newTestGoogle(t, server.URL, func(c *GoogleConfig) { c.EnableThinking = true; c.ThinkingBudget = 512 })

	msg, err := p.Generate(context.Background(), []models.Message{models.NewHumanMessage("copy hi")}, []models.ToolDescriptor{clipboardTool})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if msg.StopReason != models.StopToolUse || msg.Model != "gemini-2.5-flash-001" {
		t.Fatalf("message = %+v", msg)
	}
	if _, ok := msg.Content[0].(models.ThinkingBlock); !ok {
		t.Fatalf("first block = %T", msg.Content[0])
	}
	inputs := msg.ToolInputs()
	if len(inputs) != 1 || inputs[0].CallID == "" || string(inputs[0].Arguments) != `{"text":"hi"}` {
		t.Fatalf("inputs = %+v", inputs)
	}
	if _, ok := msg.Native.(*genai.Content); !ok {
		t.Fatalf("native = %T", msg.Native)
	}

	got := (*requests)[0]
	if !strings.Contains(got.Path, "gemini-2.5-flash:generateContent") {
		t.Fatalf("path = %s", got.Path)
	}
	if _, ok := got.Body["systemInstruction"]; !ok {
		t.Fatalf("body = %v", got.Body)
	}
	genCfg, _ := got.Body["generationConfig"].(map[string]any)
	thinking, _ := genCfg["thinkingConfig"].(map[string]any)
	if thinking["includeThoughts"] != true || thinking["thinkingBudget"] != float64(512) {
		t.Fatalf("generationConfig = %v", genCfg)
	}
}

func TestGoogleToNative(t *testing.T) {
	p := newTestGoogle(t, "", nil)

	replay := &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "native"}}}
	ai := models.NewMessage(models.RoleAI, models.TextBlock{Text: "converted"})
	ai.Native = replay

	history := []models.Message{
		models.NewHumanMessage("hi"),
		ai,
		models.NewMessage(models.RoleAI,
			models.ThinkingBlock{Text: "drop"},
			models.ToolInputRequest{CallID: "c1", ToolName: "computer", Arguments: []byte(`{"action":"screenshot"}`), Origin: models.OriginLocal},
		),
		models.NewMessage(models.RoleTool,
			models.ToolImageOutput{CallID: "c1", Data: []byte{1}, MimeType: "image/png"},
			models.ToolTextOutput{CallID: "c1", Text: "denied", IsError: true},
		),
		models.NewSystemErrorMessage("skip"),
	}
	contents := p.ToNative(history)
	if len(contents) != 4 {
		t.Fatalf("len = %d", len(contents))
	}
	if contents[1] != replay {
		t.Fatal("native content not replayed")
	}
	call := contents[2].Parts
	if len(call) != 1 || call[0].FunctionCall == nil || call[0].FunctionCall.Args["action"] != "screenshot" {
		t.Fatalf("model parts = %+v", call)
	}
	tool := contents[3]
	if tool.Role != genai.RoleUser || len(tool.Parts) != 3 {
		t.Fatalf("tool content = %+v", tool)
	}
	if tool.Parts[0].FunctionResponse.Name != "computer" || tool.Parts[1].InlineData == nil {
		t.Fatalf("image parts = %+v %+v", tool.Parts[0], tool.Parts[1])
	}
	if tool.Parts[2].FunctionResponse.Response["error"] != "denied" {
		t.Fatalf("error response = %+v", tool.Parts[2].FunctionResponse)
	}
}

func TestGoogleFromNative(t *testing.T) {
	p := newTestGoogle(t, "", nil)

	tests := []struct {
		reason genai.FinishReason
		want   models.StopReason
	}{
		{genai.FinishReasonStop, models.StopEndTurn},
		{genai.FinishReasonMaxTokens, models.StopMaxTokens},
		{genai.FinishReasonSafety, models.StopRefusal},
		{genai.FinishReasonMalformedFunctionCall, models.StopEndTurn},
	}
	for _, tt := range tests {
		msg, err := p.FromNative(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "x"}}},
			FinishReason: tt.reason,
		}}})
		if err != nil {
			t.Fatal(err)
		}
		if msg.StopReason != tt.want {
			t.Errorf("%s: stop reason = %s, want %s", tt.reason, msg.StopReason, tt.want)
		}
	}

	if _, err := p.FromNative(&genai.GenerateContentResponse{}); err == nil {
		t.Fatal("expected error for no candidates")
	}
}

func TestGoogleWrapError(t *testing.T) {
	p := newTestGoogle(t, "", nil)

	tests := []struct {
		name string
		err  error
		want FailoverReason
	}{
		{name: "api error", err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}, want: ReasonRateLimit},
		{name: "api unauthenticated", err: genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}, want: ReasonAuth},
		{name: "text 503", err: errors.New("googleapi: Error 503: backend unavailable"), want: ReasonServerError},
		{name: "canceled", err: context.Canceled, want: ReasonCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr, ok := AsProviderError(p.wrapError(tt.err))
			if !ok || perr.Reason != tt.want {
				t.Fatalf("wrapError = %+v, want %s", perr, tt.want)
			}
		})
	}
}
