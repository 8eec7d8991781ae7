package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MarshalBlock encodes a content block with a "type" discriminator.
func MarshalBlock(block ContentBlock) (json.RawMessage, error) {
	if unknown, ok := block.(UnknownBlock); ok {
		return unknown.Raw, nil
	}
	body, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal %s block: %w", block.BlockType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(block.BlockType())
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// UnmarshalBlock decodes a block produced by MarshalBlock. Unrecognised
// types are returned as UnknownBlock rather than an error.
func UnmarshalBlock(data []byte) (ContentBlock, error) {
	var head struct {
		Type BlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	switch head.Type {
	case BlockText:
		var b TextBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockThinking:
		var b ThinkingBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockToolInput:
		var b ToolInputRequest
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockToolTextOutput:
		var b ToolTextOutput
		err := json.Unmarshal(data, &b)
		return b, err
	case BlockToolImageOutput:
		var b ToolImageOutput
		err := json.Unmarshal(data, &b)
		return b, err
	case "":
		return nil, fmt.Errorf("decode block: missing type")
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownBlock{Type: head.Type, Raw: raw}, nil
	}
}

type messageWire struct {
	ID         string            `json:"id"`
	Role       Role              `json:"role"`
	Content    []json.RawMessage `json:"content"`
	Provider   string            `json:"provider,omitempty"`
	Model      string            `json:"model,omitempty"`
	StopReason StopReason        `json:"stop_reason,omitempty"`
	Usage      *Usage            `json:"usage,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		ID:         m.ID,
		Role:       m.Role,
		Content:    make([]json.RawMessage, 0, len(m.Content)),
		Provider:   m.Provider,
		Model:      m.Model,
		StopReason: m.StopReason,
		Usage:      m.Usage,
		CreatedAt:  m.CreatedAt,
	}
	for _, block := range m.Content {
		raw, err := MarshalBlock(block)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Role != "" && !wire.Role.Valid() {
		return fmt.Errorf("decode message: unknown role %q", wire.Role)
	}
	content := make([]ContentBlock, 0, len(wire.Content))
	for i, raw := range wire.Content {
		block, err := UnmarshalBlock(raw)
		if err != nil {
			return fmt.Errorf("decode message content[%d]: %w", i, err)
		}
		content = append(content, block)
	}
	*m = Message{
		ID:         wire.ID,
		Role:       wire.Role,
		Content:    content,
		Provider:   wire.Provider,
		Model:      wire.Model,
		StopReason: wire.StopReason,
		Usage:      wire.Usage,
		CreatedAt:  wire.CreatedAt,
	}
	return nil
}
