package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleSystem, "system"},
		{RoleHuman, "human"},
		{RoleAI, "ai"},
		{RoleTool, "tool"},
		{RoleSystemError, "system_error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
			if !tt.constant.Valid() {
				t.Errorf("%q should be valid", tt.constant)
			}
		})
	}

	if Role("narrator").Valid() {
		t.Error("unknown role should not be valid")
	}
}

func TestMessage_RoundTripEveryBlock(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		block ContentBlock
	}{
		{"text", TextBlock{Text: "hello"}},
		{"thinking", ThinkingBlock{Text: "hmm", Signature: "sig-1"}},
		{"tool input", ToolInputRequest{
			CallID:    "call_1",
			ToolName:  "clipboard_get",
			Arguments: json.RawMessage(`{"a":1}`),
			Origin:    OriginLocal,
		}},
		{"indented tool input", ToolInputRequest{
			CallID:    "call_3",
			ToolName:  "computer",
			Arguments: CanonicalArguments([]byte(`{"action": "left_click",
  "coordinate": [10, 20]}`)),
			Origin: OriginLocal,
		}},
		{"malformed tool input", ToolInputRequest{
			CallID:    "call_4",
			ToolName:  "clipboard_set",
			Arguments: CanonicalArguments([]byte(`{"text":`)),
			Origin:    OriginLocal,
		}},
		{"remote tool input", ToolInputRequest{
			CallID:   "srv_1",
			ToolName: "web_search",
			Origin:   OriginRemote,
		}},
		{"tool text", ToolTextOutput{CallID: "call_1", ToolName: "clipboard_get", Text: "x", IsError: true}},
		{"tool image", ToolImageOutput{
			CallID:   "call_2",
			ToolName: "computer",
			Data:     []byte{0x89, 'P', 'N', 'G'},
			MimeType: "image/png",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := Message{
				ID:         "msg-1",
				Role:       RoleAI,
				Content:    []ContentBlock{tt.block},
				Provider:   "anthropic",
				Model:      "claude",
				StopReason: StopToolUse,
				Usage:      &Usage{InputTokens: 10, OutputTokens: 3},
				CreatedAt:  created,
			}

			data, err := json.Marshal(original)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			var decoded Message
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}

			if !reflect.DeepEqual(original, decoded) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", decoded, original)
			}
		})
	}
}

func TestCanonicalArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", `{}`},
		{"null", " null ", `{}`},
		{"compact", `{"a":1}`, `{"a":1}`},
		{"whitespace", "{\"a\": 1,\n \"b\": [1, 2]}", `{"a":1,"b":[1,2]}`},
		{"truncated", `{"a":`, `"{\"a\":"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalArguments([]byte(tt.raw))
			if string(got) != tt.want {
				t.Fatalf("CanonicalArguments(%q) = %s, want %s", tt.raw, got, tt.want)
			}
			if !json.Valid(got) {
				t.Fatalf("result %s is not valid JSON", got)
			}
			req := ToolInputRequest{CallID: "c", ToolName: "t", Arguments: got}
			if tt.name == "truncated" {
				if _, err := req.ArgumentsMap(); err == nil {
					t.Fatal("expected malformed arguments to be rejected")
				}
			}
		})
	}
}

func TestMessage_WireDiscriminator(t *testing.T) {
	msg := NewMessage(RoleTool, ToolTextOutput{CallID: "c", ToolName: "t", Text: "ok"})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"type":"tool_text_output"`) {
		t.Errorf("expected type discriminator in %s", data)
	}
}

func TestMessage_UnknownBlockPreserved(t *testing.T) {
	input := `{"id":"m","role":"ai","content":[{"type":"hologram","beam":3},{"type":"text","text":"hi"}],"created_at":"2025-01-01T00:00:00Z"}`

	var msg Message
	if err := json.Unmarshal([]byte(input), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(msg.Content))
	}
	unknown, ok := msg.Content[0].(UnknownBlock)
	if !ok {
		t.Fatalf("expected UnknownBlock, got %T", msg.Content[0])
	}
	if unknown.Type != "hologram" {
		t.Errorf("Type = %q, want hologram", unknown.Type)
	}
	if msg.Text() != "hi" {
		t.Errorf("Text() = %q, want hi", msg.Text())
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"beam":3`) {
		t.Errorf("unknown block not preserved: %s", out)
	}
}

func TestMessage_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad role", `{"id":"m","role":"wizard","content":[]}`},
		{"missing block type", `{"id":"m","role":"ai","content":[{"text":"x"}]}`},
		{"bad block json", `{"id":"m","role":"ai","content":["nope"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tt.input), &msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMessage_ToolInputsSkipsRemote(t *testing.T) {
	msg := NewMessage(RoleAI,
		TextBlock{Text: "searching"},
		ToolInputRequest{CallID: "s1", ToolName: "web_search", Origin: OriginRemote},
		ToolInputRequest{CallID: "c1", ToolName: "clipboard_get", Origin: OriginLocal},
		ToolInputRequest{CallID: "c2", ToolName: "clipboard_set", Origin: OriginLocal},
	)

	inputs := msg.ToolInputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 local inputs, got %d", len(inputs))
	}
	if inputs[0].CallID != "c1" || inputs[1].CallID != "c2" {
		t.Errorf("unexpected order: %+v", inputs)
	}
}

func TestMessage_CloneDoesNotAlias(t *testing.T) {
	msg := NewMessage(RoleHuman, TextBlock{Text: "a"})
	msg.Usage = &Usage{InputTokens: 1}

	clone := msg.Clone()
	clone.Content[0] = TextBlock{Text: "b"}
	clone.Usage.InputTokens = 99

	if msg.Content[0].(TextBlock).Text != "a" {
		t.Error("clone content aliases original")
	}
	if msg.Usage.InputTokens != 1 {
		t.Error("clone usage aliases original")
	}
}

func TestToolInputRequest_ArgumentsMap(t *testing.T) {
	tests := []struct {
		name    string
		args    json.RawMessage
		want    map[string]any
		wantErr bool
	}{
		{"nil", nil, map[string]any{}, false},
		{"null", json.RawMessage(`null`), map[string]any{}, false},
		{"object", json.RawMessage(`{"text":"hi"}`), map[string]any{"text": "hi"}, false},
		{"array", json.RawMessage(`[1]`), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToolInputRequest{Arguments: tt.args}.ArgumentsMap()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolDescriptor_Schema(t *testing.T) {
	if got := (ToolDescriptor{Name: "x"}).Schema(); string(got) != string(EmptyObjectSchema) {
		t.Errorf("Schema() = %s, want empty object schema", got)
	}
	custom := json.RawMessage(`{"type":"object","required":["a"]}`)
	if got := (ToolDescriptor{InputSchema: custom}).Schema(); string(got) != string(custom) {
		t.Errorf("Schema() = %s, want %s", got, custom)
	}
}
