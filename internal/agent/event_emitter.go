package agent

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// EventEmitter stamps AgentEvents with sequencing and run context and
// forwards them to a sink. Sequence numbers are monotonic for the lifetime
// of the emitter, which spans every run of one Runner, and events reach the
// sink in sequence order even when emitted from several goroutines.
type EventEmitter struct {
	sink      EventSink
	sessionID string

	mu       sync.Mutex
	sequence uint64

	runID     string
	iterIndex int
}

// NewEventEmitter creates an emitter bound to one conversation.
func NewEventEmitter(sessionID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{sink: sink, sessionID: sessionID}
}

// BeginRun resets run-scoped fields.
func (e *EventEmitter) BeginRun(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runID = runID
	e.iterIndex = 0
}

// SetIter updates the current iteration index.
func (e *EventEmitter) SetIter(iterIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iterIndex = iterIndex
}

// emit stamps an event and delivers it while holding the lock, so sequence
// order and delivery order agree.
func (e *EventEmitter) emit(ctx context.Context, eventType models.AgentEventType, fill func(*models.AgentEvent)) models.AgentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence++
	event := models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  e.sequence,
		RunID:     e.runID,
		SessionID: e.sessionID,
		IterIndex: e.iterIndex,
	}
	fill(&event)
	e.sink.Emit(ctx, event)
	return event
}

// AgentReady emits agent.ready with the size of the tool set.
func (e *EventEmitter) AgentReady(ctx context.Context, toolCount int) models.AgentEvent {
	return e.emit(ctx, models.AgentEventReady, func(event *models.AgentEvent) {
		event.RunID = ""
		event.Ready = &models.ReadyEventPayload{ToolCount: toolCount}
	})
}

// ServerInitialized emits server.initialized for a tool server.
func (e *EventEmitter) ServerInitialized(ctx context.Context, name string) models.AgentEvent {
	return e.emit(ctx, models.AgentEventServerInitialized, func(event *models.AgentEvent) {
		event.RunID = ""
		event.Server = &models.ServerEventPayload{Name: name}
	})
}

// RunStarted emits run.started.
func (e *EventEmitter) RunStarted(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, models.AgentEventRunStarted, func(*models.AgentEvent) {})
}

// UpdateAI emits update.ai with a copy of the assistant message.
func (e *EventEmitter) UpdateAI(ctx context.Context, msg models.Message) models.AgentEvent {
	clone := msg.Clone()
	return e.emit(ctx, models.AgentEventUpdateAI, func(event *models.AgentEvent) {
		event.Message = &clone
	})
}

// UpdateTool emits update.tool with a copy of the tool message.
func (e *EventEmitter) UpdateTool(ctx context.Context, msg models.Message) models.AgentEvent {
	clone := msg.Clone()
	return e.emit(ctx, models.AgentEventUpdateTool, func(event *models.AgentEvent) {
		event.Message = &clone
	})
}

// RunCompleted emits the terminal run.completed event.
func (e *EventEmitter) RunCompleted(ctx context.Context, resp models.RunResponse) models.AgentEvent {
	return e.emit(ctx, models.AgentEventRunCompleted, func(event *models.AgentEvent) {
		event.Response = &resp
	})
}
