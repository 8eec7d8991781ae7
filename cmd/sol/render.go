package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

const previewLimit = 200

// terminalSink prints run progress. Final replies go to out; tool activity
// and errors go to status.
type terminalSink struct {
	out    io.Writer
	status io.Writer

	mu       sync.Mutex
	finished chan models.RunResponse
}

func newTerminalSink(out, status io.Writer) *terminalSink {
	return &terminalSink{out: out, status: status, finished: make(chan models.RunResponse, 1)}
}

func (s *terminalSink) Emit(_ context.Context, e models.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type {
	case models.AgentEventReady:
		if e.Ready != nil {
			fmt.Fprintf(s.status, "ready: %d tools\n", e.Ready.ToolCount)
		}
	case models.AgentEventServerInitialized:
		if e.Server != nil {
			fmt.Fprintf(s.status, "connected: %s\n", e.Server.Name)
		}
	case models.AgentEventUpdateAI:
		if e.Message != nil && e.Message.StopReason == models.StopToolUse {
			s.printProgress(*e.Message)
		}
	case models.AgentEventUpdateTool:
		if e.Message != nil {
			s.printToolResults(*e.Message)
		}
	case models.AgentEventRunCompleted:
		if e.Response == nil {
			return
		}
		if e.Response.IsError {
			fmt.Fprintf(s.status, "error: %s\n", e.Response.ErrorMessage)
		} else if e.Response.Message != nil {
			fmt.Fprintln(s.out, strings.TrimSpace(e.Response.Message.Text()))
		}
		select {
		case s.finished <- *e.Response:
		default:
		}
	}
}

// wait blocks until the current run's terminal event has been printed.
func (s *terminalSink) wait(ctx context.Context) (models.RunResponse, error) {
	select {
	case resp := <-s.finished:
		return resp, nil
	case <-ctx.Done():
		return models.RunResponse{}, ctx.Err()
	}
}

func (s *terminalSink) printProgress(msg models.Message) {
	if text := strings.TrimSpace(msg.Text()); text != "" {
		fmt.Fprintln(s.status, text)
	}
	for _, block := range msg.Content {
		req, ok := block.(models.ToolInputRequest)
		if !ok {
			continue
		}
		where := ""
		if req.Origin == models.OriginRemote {
			where = " (provider)"
		}
		fmt.Fprintf(s.status, "→ %s%s %s\n", req.ToolName, where, preview(string(req.Arguments)))
	}
}

func (s *terminalSink) printToolResults(msg models.Message) {
	for _, block := range msg.Content {
		switch b := block.(type) {
		case models.ToolTextOutput:
			fmt.Fprintf(s.status, "← %s%s: %s\n", b.ToolName, errorMark(b.IsError), preview(b.Text))
		case models.ToolImageOutput:
			fmt.Fprintf(s.status, "← %s%s: [%s, %d bytes]\n", b.ToolName, errorMark(b.IsError), b.MimeType, len(b.Data))
		}
	}
}

func errorMark(isError bool) string {
	if isError {
		return " (error)"
	}
	return ""
}

// preview flattens s to one line of at most previewLimit runes.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLimit {
		return string(r[:previewLimit]) + "…"
	}
	return s
}
