package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/speedoflight/internal/mcp"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// toolDispatcher routes tool requests to the local handler or the remote
// registry. Local tools shadow remote tools of the same name.
type toolDispatcher struct {
	remote  RemoteTools
	local   LocalTools
	logger  *slog.Logger
	metrics Observer
	tracer  trace.Tracer
}

// tools returns the combined tool set, local tools first.
func (d *toolDispatcher) tools() []models.ToolDescriptor {
	var out []models.ToolDescriptor
	seen := make(map[string]struct{})
	if d.local != nil {
		for _, t := range d.local.Tools() {
			seen[t.Name] = struct{}{}
			out = append(out, t)
		}
	}
	if d.remote != nil {
		for _, t := range d.remote.Tools() {
			if _, dup := seen[t.Name]; dup {
				d.logger.Debug("remote tool shadowed by local tool", "tool", t.Name, "server", t.Server)
				continue
			}
			seen[t.Name] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// execute runs one tool request and returns its raw output blocks. It never
// fails: errors become is_error blocks.
func (d *toolDispatcher) execute(ctx context.Context, req models.ToolInputRequest) []models.ContentBlock {
	origin := "remote"
	if d.local != nil && d.local.Has(req.ToolName) {
		origin = "local"
	}

	ctx, span := d.tracer.Start(ctx, "agent.tool",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", req.ToolName),
			attribute.String("tool.call_id", req.CallID),
			attribute.String("tool.origin", origin),
		))
	defer span.End()

	start := time.Now()
	var (
		blocks []models.ContentBlock
		err    error
	)
	if origin == "local" {
		msg := d.local.Call(ctx, req)
		blocks = msg.Content
	} else {
		blocks, err = d.callRemote(ctx, req)
		if err != nil {
			d.logger.Warn("tool call failed", "tool", req.ToolName, "call_id", req.CallID, "error", err)
			span.RecordError(err)
			blocks = []models.ContentBlock{mcp.ErrorBlock(req.CallID, req.ToolName, err)}
		}
	}

	status := "success"
	if hasErrorBlock(blocks) {
		status = "error"
		span.SetStatus(codes.Error, "tool returned an error")
	}
	d.metrics.ObserveToolCall(req.ToolName, origin, status, time.Since(start))
	return blocks
}

func (d *toolDispatcher) callRemote(ctx context.Context, req models.ToolInputRequest) ([]models.ContentBlock, error) {
	if d.remote == nil {
		return nil, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, req.ToolName)
	}
	result, err := d.remote.CallTool(ctx, req.ToolName, req.Arguments)
	if err != nil {
		return nil, err
	}
	return result.Blocks(req.CallID, req.ToolName, d.logger), nil
}

// skipped answers a tool request that was not executed.
func skipped(req models.ToolInputRequest) models.ContentBlock {
	return models.ToolTextOutput{
		CallID:   req.CallID,
		ToolName: req.ToolName,
		Text:     fmt.Sprintf("Tool %s was not run: only one tool call per turn is supported.", req.ToolName),
		IsError:  true,
	}
}

func hasErrorBlock(blocks []models.ContentBlock) bool {
	for _, b := range blocks {
		switch v := b.(type) {
		case models.ToolTextOutput:
			if v.IsError {
				return true
			}
		case models.ToolImageOutput:
			if v.IsError {
				return true
			}
		}
	}
	return false
}
