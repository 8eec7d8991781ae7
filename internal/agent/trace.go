package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// TraceSink writes AgentEvents to a JSONL stream for debugging and replay.
// The first line is a TraceHeader; every event follows on its own line.
type TraceSink struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	redactor Redactor
	header   TraceHeader
	started  bool
	logger   *slog.Logger
}

// TraceHeader is the first line of a trace.
type TraceHeader struct {
	Version    int       `json:"version"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	AppVersion string    `json:"app_version,omitempty"`
}

// Redactor may modify an event copy before it is written.
type Redactor func(e *models.AgentEvent)

// TraceOption configures a TraceSink.
type TraceOption func(*TraceSink)

// WithRedactor sets a redactor.
func WithRedactor(r Redactor) TraceOption {
	return func(s *TraceSink) {
		s.redactor = r
	}
}

// WithTraceLogger sets the logger for encoding and write failures.
func WithTraceLogger(logger *slog.Logger) TraceOption {
	return func(s *TraceSink) {
		s.logger = logger
	}
}

// WithAppVersion records the application version in the header.
func WithAppVersion(version string) TraceOption {
	return func(s *TraceSink) {
		s.header.AppVersion = version
	}
}

// NewTraceSink creates a sink writing to w.
func NewTraceSink(w io.Writer, sessionID string, opts ...TraceOption) *TraceSink {
	s := &TraceSink{
		writer: w,
		header: TraceHeader{Version: 1, SessionID: sessionID, StartedAt: time.Now()},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTraceFile creates or truncates path and writes the trace there.
func NewTraceFile(path, sessionID string, opts ...TraceOption) (*TraceSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	s := NewTraceSink(f, sessionID, opts...)
	s.file = f
	return s, nil
}

func (s *TraceSink) Emit(ctx context.Context, e models.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		_ = s.writeLine(s.header)
	}
	if s.redactor != nil {
		e = redactCopy(e)
		s.redactor(&e)
	}
	if err := s.writeLine(e); err != nil {
		// Keep the event in the sequence with its payload replaced.
		s.logger.Warn("trace event not encodable", "type", e.Type, "sequence", e.Sequence, "error", err)
		placeholder := models.NewSystemErrorMessage("trace: message not encodable: " + err.Error())
		if e.Message != nil {
			e.Message = &placeholder
		}
		if e.Response != nil {
			r := *e.Response
			r.Message = nil
			e.Response = &r
		}
		if err := s.writeLine(e); err != nil {
			s.logger.Error("trace event dropped", "type", e.Type, "sequence", e.Sequence, "error", err)
		}
	}
}

func (s *TraceSink) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		s.logger.Warn("trace write failed", "error", err)
		return nil
	}
	if s.file != nil {
		_ = s.file.Sync()
	}
	return nil
}

// Close closes the trace file if the sink opened it.
func (s *TraceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// redactCopy detaches the message payload so a redactor cannot mutate
// data shared with other sinks.
func redactCopy(e models.AgentEvent) models.AgentEvent {
	if e.Message != nil {
		m := e.Message.Clone()
		e.Message = &m
	}
	if e.Response != nil {
		r := *e.Response
		if r.Message != nil {
			m := r.Message.Clone()
			r.Message = &m
		}
		e.Response = &r
	}
	return e
}

// DefaultRedactor replaces tool output text and image bytes with a
// placeholder. Model text is kept.
func DefaultRedactor(e *models.AgentEvent) {
	if e.Message == nil {
		return
	}
	for i, block := range e.Message.Content {
		switch b := block.(type) {
		case models.ToolTextOutput:
			b.Text = "[REDACTED]"
			e.Message.Content[i] = b
		case models.ToolImageOutput:
			b.Data = nil
			e.Message.Content[i] = b
		}
	}
}

// TraceReader reads a JSONL trace.
type TraceReader struct {
	decoder *json.Decoder
	header  TraceHeader
}

// NewTraceReader reads and checks the header.
func NewTraceReader(r io.Reader) (*TraceReader, error) {
	decoder := json.NewDecoder(r)
	var header TraceHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("read trace header: %w", err)
	}
	if header.Version != 1 {
		return nil, fmt.Errorf("unsupported trace version: %d", header.Version)
	}
	return &TraceReader{decoder: decoder, header: header}, nil
}

func (r *TraceReader) Header() TraceHeader {
	return r.header
}

// ReadEvent returns io.EOF when the trace is exhausted.
func (r *TraceReader) ReadEvent() (models.AgentEvent, error) {
	var event models.AgentEvent
	err := r.decoder.Decode(&event)
	return event, err
}

// ReadAll reads the remaining events.
func (r *TraceReader) ReadAll() ([]models.AgentEvent, error) {
	var events []models.AgentEvent
	for {
		event, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// ValidateTrace checks event ordering: sequences strictly increase and
// every run.started is closed by exactly one run.completed before the next
// run begins.
func ValidateTrace(events []models.AgentEvent) []string {
	var problems []string
	if len(events) == 0 {
		return []string{"trace has no events"}
	}

	var (
		lastSeq uint64
		openRun string
	)
	for i, e := range events {
		if i > 0 && e.Sequence <= lastSeq {
			problems = append(problems, fmt.Sprintf("sequence not strictly increasing at event %d: %d <= %d", i, e.Sequence, lastSeq))
		}
		lastSeq = e.Sequence

		switch e.Type {
		case models.AgentEventRunStarted:
			if openRun != "" {
				problems = append(problems, fmt.Sprintf("run %s started before run %s completed", e.RunID, openRun))
			}
			openRun = e.RunID
		case models.AgentEventUpdateAI, models.AgentEventUpdateTool:
			if openRun == "" || e.RunID != openRun {
				problems = append(problems, fmt.Sprintf("event %d (%s) outside of a run", i, e.Type))
			}
		case models.AgentEventRunCompleted:
			if openRun == "" || e.RunID != openRun {
				problems = append(problems, fmt.Sprintf("run.completed at event %d has no matching run.started", i))
			}
			openRun = ""
		}
	}
	if openRun != "" {
		problems = append(problems, fmt.Sprintf("run %s never completed", openRun))
	}
	return problems
}
