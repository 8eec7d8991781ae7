package agent

import (
	"bytes"
	"testing"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

func TestConsolidateToolResult(t *testing.T) {
	png1 := models.ToolImageOutput{Data: []byte("one"), MimeType: "image/png"}
	png2 := models.ToolImageOutput{Data: []byte("two"), MimeType: "image/png"}

	tests := []struct {
		name      string
		blocks    []models.ContentBlock
		wantText  string
		wantImage []byte
		wantError bool
	}{
		{
			name: "texts joined with newline",
			blocks: []models.ContentBlock{
				models.ToolTextOutput{Text: "a"},
				models.ToolTextOutput{Text: "b"},
			},
			wantText: "a\nb",
		},
		{
			name: "text and image keeps text",
			blocks: []models.ContentBlock{
				models.ToolTextOutput{Text: "caption"},
				png1,
			},
			wantText: "caption",
		},
		{
			name:      "several images keeps first",
			blocks:    []models.ContentBlock{png1, png2},
			wantImage: []byte("one"),
		},
		{
			name: "error flag survives",
			blocks: []models.ContentBlock{
				models.ToolTextOutput{Text: "ok"},
				models.ToolTextOutput{Text: "boom", IsError: true},
			},
			wantText:  "ok\nboom",
			wantError: true,
		},
		{
			name:     "unsupported blocks dropped",
			blocks:   []models.ContentBlock{models.ThinkingBlock{Text: "x"}, models.ToolTextOutput{Text: "y"}},
			wantText: "y",
		},
		{
			name:     "empty",
			blocks:   nil,
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConsolidateToolResult("call_1", "tool", tt.blocks)
			if tt.wantImage != nil {
				img, ok := got.(models.ToolImageOutput)
				if !ok {
					t.Fatalf("expected image output, got %T", got)
				}
				if !bytes.Equal(img.Data, tt.wantImage) {
					t.Errorf("Data = %q, want %q", img.Data, tt.wantImage)
				}
				if img.CallID != "call_1" || img.ToolName != "tool" {
					t.Errorf("ids not stamped: %+v", img)
				}
				return
			}
			text, ok := got.(models.ToolTextOutput)
			if !ok {
				t.Fatalf("expected text output, got %T", got)
			}
			if text.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", text.Text, tt.wantText)
			}
			if text.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v", text.IsError, tt.wantError)
			}
			if text.CallID != "call_1" || text.ToolName != "tool" {
				t.Errorf("ids not stamped: %+v", text)
			}
		})
	}
}
