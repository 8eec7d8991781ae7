// Package models provides domain types for the speedoflight agent runtime.
package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem      Role = "system"
	RoleHuman       Role = "human"
	RoleAI          Role = "ai"
	RoleTool        Role = "tool"
	RoleSystemError Role = "system_error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleHuman, RoleAI, RoleTool, RoleSystemError:
		return true
	}
	return false
}

// StopReason is the provider-reported reason a model call ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	StopPauseTurn    StopReason = "pause_turn"
	StopRefusal      StopReason = "refusal"
)

// Usage carries token counters reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one conversation turn. Messages are treated as immutable once
// appended to a conversation; use Clone before modifying a copy.
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	StopReason StopReason     `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	// Native holds the provider's own representation of a reply so the
	// same adapter can replay it verbatim. It never leaves the process.
	Native any `json:"-"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, blocks ...ContentBlock) Message {
	content := make([]ContentBlock, len(blocks))
	copy(content, blocks)
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewHumanMessage wraps user text as a human message.
func NewHumanMessage(text string) Message {
	return NewMessage(RoleHuman, TextBlock{Text: text})
}

// NewSystemErrorMessage creates the transcript entry recorded for a failed run.
func NewSystemErrorMessage(text string) Message {
	return NewMessage(RoleSystemError, TextBlock{Text: text})
}

// Text joins all text blocks with newlines.
func (m Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if tb, ok := block.(TextBlock); ok && tb.Text != "" {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolInputs returns the tool requests the client is expected to execute.
// Requests executed by the provider itself are excluded.
func (m Message) ToolInputs() []ToolInputRequest {
	var inputs []ToolInputRequest
	for _, block := range m.Content {
		if req, ok := block.(ToolInputRequest); ok && req.Origin != OriginRemote {
			inputs = append(inputs, req)
		}
	}
	return inputs
}

// Clone returns a copy whose content slice does not alias m.
func (m Message) Clone() Message {
	out := m
	out.Content = make([]ContentBlock, len(m.Content))
	copy(out.Content, m.Content)
	if m.Usage != nil {
		usage := *m.Usage
		out.Usage = &usage
	}
	return out
}

// BlockType discriminates content block variants on the wire.
type BlockType string

const (
	BlockText            BlockType = "text"
	BlockThinking        BlockType = "thinking"
	BlockToolInput       BlockType = "tool_input"
	BlockToolTextOutput  BlockType = "tool_text_output"
	BlockToolImageOutput BlockType = "tool_image_output"
)

// ContentBlock is a closed set of content variants. Consumers switch on the
// concrete type and must ignore variants they do not understand.
type ContentBlock interface {
	BlockType() BlockType
	isContentBlock()
}

// ToolOrigin says who executes a tool request.
type ToolOrigin string

const (
	// OriginLocal requests are executed by this process, either by the
	// local tool handler or by a tool server.
	OriginLocal ToolOrigin = "local"
	// OriginRemote requests were already executed by the model provider.
	OriginRemote ToolOrigin = "remote"
)

// TextBlock is plain text.
type TextBlock struct {
	Text string `json:"text"`
}

// ThinkingBlock is model reasoning. Signature is opaque provider data.
type ThinkingBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// ToolInputRequest asks for a tool to be run.
type ToolInputRequest struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Origin    ToolOrigin      `json:"origin"`
}

// ToolTextOutput is a textual tool result.
type ToolTextOutput struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Text     string `json:"text"`
	IsError  bool   `json:"is_error,omitempty"`
}

// ToolImageOutput is an image tool result.
type ToolImageOutput struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	IsError  bool   `json:"is_error,omitempty"`
}

// UnknownBlock preserves a block whose type this build does not know.
type UnknownBlock struct {
	Type BlockType
	Raw  json.RawMessage
}

func (TextBlock) BlockType() BlockType        { return BlockText }
func (ThinkingBlock) BlockType() BlockType    { return BlockThinking }
func (ToolInputRequest) BlockType() BlockType { return BlockToolInput }
func (ToolTextOutput) BlockType() BlockType   { return BlockToolTextOutput }
func (ToolImageOutput) BlockType() BlockType  { return BlockToolImageOutput }
func (b UnknownBlock) BlockType() BlockType   { return b.Type }

func (TextBlock) isContentBlock()        {}
func (ThinkingBlock) isContentBlock()    {}
func (ToolInputRequest) isContentBlock() {}
func (ToolTextOutput) isContentBlock()   {}
func (ToolImageOutput) isContentBlock()  {}
func (UnknownBlock) isContentBlock()     {}

// CanonicalArguments returns tool arguments in the form the wire codec
// reproduces exactly: compact JSON, with empty or null input as {}.
// Malformed input is kept as a JSON string, which no tool accepts as its
// argument object.
func CanonicalArguments(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	return buf.Bytes()
}

// ArgumentsMap decodes the request arguments into a map. Missing or null
// arguments yield an empty map.
func (r ToolInputRequest) ArgumentsMap() (map[string]any, error) {
	args := map[string]any{}
	if len(r.Arguments) == 0 || string(r.Arguments) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(r.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}
