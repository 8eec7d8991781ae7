package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// EventSink receives agent events during processing.
// Implementations must be safe to call from multiple goroutines.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// ChanSink sends events to a channel. A full channel blocks the emitter
// until there is room or the context is done, so nothing is dropped while
// the consumer keeps reading.
type ChanSink struct {
	ch chan<- models.AgentEvent
}

// NewChanSink creates a sink that sends to a channel.
func NewChanSink(ch chan<- models.AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event, waiting for room until the context is done.
func (s *ChanSink) Emit(ctx context.Context, e models.AgentEvent) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink fans out events to multiple sinks in order.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink that dispatches events to multiple sinks.
// Nil sinks are filtered out.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.AgentEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.AgentEvent)
}

func NewCallbackSink(fn func(ctx context.Context, e models.AgentEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e models.AgentEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, e models.AgentEvent) {}

// QueueSink hands events to a single consumer goroutine so the wrapped sink
// observes them in emission order without blocking the run loop on slow
// consumers. Emit blocks only when the buffer is full. Events are never
// dropped before Close.
type QueueSink struct {
	next EventSink

	mu     sync.RWMutex
	closed bool
	queue  chan queuedEvent
	done   chan struct{}
}

type queuedEvent struct {
	ctx   context.Context
	event models.AgentEvent
}

// NewQueueSink starts the consumer goroutine. Call Close to drain and stop it.
func NewQueueSink(next EventSink, buffer int) *QueueSink {
	if next == nil {
		next = NopSink{}
	}
	if buffer <= 0 {
		buffer = 64
	}
	q := &QueueSink{
		next:  next,
		queue: make(chan queuedEvent, buffer),
		done:  make(chan struct{}),
	}
	go q.consume()
	return q
}

func (q *QueueSink) consume() {
	defer close(q.done)
	for item := range q.queue {
		q.next.Emit(item.ctx, item.event)
	}
}

// Emit enqueues the event. Events emitted after Close are discarded.
func (q *QueueSink) Emit(ctx context.Context, e models.AgentEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	// The consumer must see a live context even when the run was cancelled,
	// otherwise terminal events could be dropped downstream.
	q.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: e}
}

// Close stops accepting events and waits until every queued event has
// been delivered. It is safe to call more than once.
func (q *QueueSink) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	<-q.done
}
