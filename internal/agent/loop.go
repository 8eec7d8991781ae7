package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// DefaultMaxIterations is the model-call ceiling for one run.
const DefaultMaxIterations = 25

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Provider generates assistant replies. Required.
	Provider Provider

	// Tools is the remote tool registry. Optional.
	Tools RemoteTools

	// Local handles in-process tools. Optional.
	Local LocalTools

	// Sink receives lifecycle events. Wrap it in a QueueSink when the
	// consumer is slow or runs on another execution context.
	Sink EventSink

	// MaxIterations caps model calls per run.
	// Default: 25
	MaxIterations int

	// SessionID identifies the conversation. Generated when empty.
	SessionID string

	// History seeds the conversation, e.g. when resuming.
	History []models.Message

	Logger  *slog.Logger
	Metrics Observer
	Tracer  trace.Tracer
}

func sanitizeRunnerConfig(cfg RunnerConfig) RunnerConfig {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/speedoflight/internal/agent")
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	return cfg
}

// Request is one user turn.
type Request struct {
	// SessionID must match the runner's session when set.
	SessionID string
	Text      string
}

// Runner drives one conversation through the agent loop.
//
// Each Run moves Idle → Running → (AwaitingToolResult → Running)* →
// Completed | Failed and then back to Idle. A Runner serves one run at a
// time; concurrent conversations use separate Runners sharing a registry.
//
//	┌──────┐  Run   ┌─────────┐ tool_use ┌────────────────────┐
//	│ Idle │──────▶│ Running │────────▶│ AwaitingToolResult │
//	└──────┘        └─────────┘◀────────└────────────────────┘
//	   ▲                 │ end_turn / error / ceiling
//	   │                 ▼
//	   └──────── Completed | Failed
type Runner struct {
	cfg      RunnerConfig
	logger   *slog.Logger
	emitter  *EventEmitter
	dispatch *toolDispatcher

	mu       sync.Mutex
	state    RunState
	messages []models.Message
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	cfg = sanitizeRunnerConfig(cfg)
	logger := cfg.Logger.With("component", "agent", "session_id", cfg.SessionID)

	messages := make([]models.Message, len(cfg.History))
	copy(messages, cfg.History)

	return &Runner{
		cfg:     cfg,
		logger:  logger,
		emitter: NewEventEmitter(cfg.SessionID, cfg.Sink),
		dispatch: &toolDispatcher{
			remote:  cfg.Tools,
			local:   cfg.Local,
			logger:  logger,
			metrics: cfg.Metrics,
			tracer:  cfg.Tracer,
		},
		messages: messages,
	}, nil
}

// SessionID returns the conversation id.
func (r *Runner) SessionID() string {
	return r.cfg.SessionID
}

// State returns the current run state.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns a copy of the conversation.
func (r *Runner) History() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// Tools returns the tool set offered to the model.
func (r *Runner) Tools() []models.ToolDescriptor {
	return r.dispatch.tools()
}

// Start announces the tool set with an agent.ready event. Call it once the
// tool registry has started.
func (r *Runner) Start(ctx context.Context) {
	tools := r.dispatch.tools()
	r.logger.Info("agent ready", "tools", len(tools), "provider", r.cfg.Provider.Name(), "model", r.cfg.Provider.Model())
	r.emitter.AgentReady(ctx, len(tools))
}

// ServerInitialized forwards a tool server's readiness to the sink.
func (r *Runner) ServerInitialized(ctx context.Context, name string) {
	r.emitter.ServerInitialized(ctx, name)
}

// Run executes one user turn to completion. It emits run.started, zero or
// more update events, and exactly one run.completed. Errors from inside the
// run are reported in the terminal event and also returned; ErrRunInProgress
// and ErrSessionMismatch are returned without emitting anything.
func (r *Runner) Run(ctx context.Context, req Request) error {
	if req.SessionID != "" && req.SessionID != r.cfg.SessionID {
		return fmt.Errorf("%w: %s", ErrSessionMismatch, req.SessionID)
	}

	r.mu.Lock()
	if r.state.Active() {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	r.state = StateRunning
	r.mu.Unlock()
	defer r.setState(StateIdle)

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	ctx, span := r.cfg.Tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("session.id", r.cfg.SessionID),
		))
	defer span.End()

	r.emitter.BeginRun(runID)
	r.emitter.RunStarted(ctx)

	start := time.Now()
	r.append(models.NewHumanMessage(req.Text))

	reply, iterations, err := r.loop(ctx, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, logger, err)
		r.cfg.Metrics.ObserveRun("error", iterations, time.Since(start))
		return err
	}

	r.setState(StateCompleted)
	logger.Info("run completed", "iterations", iterations, "duration", time.Since(start))
	r.cfg.Metrics.ObserveRun("success", iterations, time.Since(start))
	r.emitter.RunCompleted(ctx, models.RunResponse{Message: &reply})
	return nil
}

func (r *Runner) loop(ctx context.Context, logger *slog.Logger) (models.Message, int, error) {
	iterations := 0
	for {
		iterations++
		if iterations > r.cfg.MaxIterations {
			return models.Message{}, iterations - 1, &LoopError{
				Phase:     PhaseBranch,
				Iteration: iterations - 1,
				Message: fmt.Sprintf("Agent seems to be stuck in a loop: reached the maximum of %d iterations.",
					r.cfg.MaxIterations),
				Cause: ErrMaxIterations,
			}
		}
		r.emitter.SetIter(iterations)

		if err := ctx.Err(); err != nil {
			return models.Message{}, iterations, &LoopError{Phase: PhaseGenerate, Iteration: iterations, Cause: err}
		}

		reply, err := r.generate(ctx, iterations)
		if err != nil {
			return models.Message{}, iterations, &LoopError{
				Phase:     PhaseGenerate,
				Iteration: iterations,
				Message:   fmt.Sprintf("Error during LLM generation: %v", err),
				Cause:     err,
			}
		}
		r.append(reply)
		r.emitter.UpdateAI(ctx, reply)

		switch reply.StopReason {
		case models.StopEndTurn, models.StopPauseTurn:
			return reply, iterations, nil

		case models.StopToolUse:
			if err := r.handleToolUse(ctx, logger, reply, iterations); err != nil {
				return models.Message{}, iterations, err
			}

		default:
			return models.Message{}, iterations, &LoopError{
				Phase:     PhaseBranch,
				Iteration: iterations,
				Message:   fmt.Sprintf("Unhandled stop reason: %q", reply.StopReason),
				Cause:     ErrUnhandledStopReason,
			}
		}
	}
}

func (r *Runner) generate(ctx context.Context, iteration int) (models.Message, error) {
	provider := r.cfg.Provider
	tools := r.dispatch.tools()

	ctx, span := r.cfg.Tracer.Start(ctx, "agent.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider.Name()),
			attribute.String("llm.model", provider.Model()),
			attribute.Int("agent.iteration", iteration),
			attribute.Int("llm.tools", len(tools)),
		))
	defer span.End()

	start := time.Now()
	reply, err := provider.Generate(ctx, r.History(), tools)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.cfg.Metrics.ObserveModelCall(provider.Name(), provider.Model(), "error", elapsed, nil)
		return models.Message{}, err
	}
	reply.Role = models.RoleAI
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.String("llm.stop_reason", string(reply.StopReason)))
	r.cfg.Metrics.ObserveModelCall(provider.Name(), provider.Model(), "success", elapsed, reply.Usage)
	return reply, nil
}

// handleToolUse executes the first local tool request of the reply and
// appends exactly one tool message answering every request in it.
func (r *Runner) handleToolUse(ctx context.Context, logger *slog.Logger, reply models.Message, iteration int) error {
	inputs := reply.ToolInputs()
	if len(inputs) == 0 {
		return &LoopError{
			Phase:     PhaseDispatch,
			Iteration: iteration,
			Message:   "The model asked to use a tool but did not say which one.",
			Cause:     ErrNoToolUse,
		}
	}
	if len(inputs) > 1 {
		logger.Warn("model requested several tools in one turn; running the first only",
			"requested", len(inputs),
			"tool", inputs[0].ToolName)
	}

	r.setState(StateAwaitingToolResult)
	first := inputs[0]
	logger.Info("calling tool", "tool", first.ToolName, "call_id", first.CallID)
	output := r.dispatch.execute(ctx, first)

	blocks := []models.ContentBlock{consolidateToolResult(first.CallID, first.ToolName, output, logger)}
	for _, extra := range inputs[1:] {
		blocks = append(blocks, skipped(extra))
	}
	toolMsg := models.NewMessage(models.RoleTool, blocks...)
	r.append(toolMsg)
	r.setState(StateRunning)
	r.emitter.UpdateTool(ctx, toolMsg)
	return nil
}

// fail records the error in the transcript and emits the terminal event.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, err error) {
	r.setState(StateFailed)
	text := errorMessage(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("run cancelled", "error", err)
	} else {
		logger.Error("run failed", "error", err)
	}

	errMsg := models.NewSystemErrorMessage(text)
	r.append(errMsg)
	r.emitter.RunCompleted(context.WithoutCancel(ctx), models.RunResponse{
		IsError:      true,
		ErrorMessage: text,
		Message:      &errMsg,
	})
}

func (r *Runner) append(msg models.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *Runner) setState(s RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
