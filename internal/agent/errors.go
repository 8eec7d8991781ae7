package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for run failures.
var (
	// ErrMaxIterations indicates the run exceeded its iteration ceiling.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoToolUse indicates the model stopped for tool use without
	// requesting a local tool.
	ErrNoToolUse = errors.New("stop reason is tool_use but no tool request was found")

	// ErrUnhandledStopReason indicates a stop reason the loop cannot act on.
	ErrUnhandledStopReason = errors.New("unhandled stop reason")

	// ErrRunInProgress is returned when Run is called while another run on
	// the same conversation is still active.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNoProvider indicates the runner was built without a provider.
	ErrNoProvider = errors.New("no provider configured")

	// ErrSessionMismatch indicates a request addressed another conversation.
	ErrSessionMismatch = errors.New("request session does not match runner session")
)

// LoopPhase identifies where in the run loop an error occurred.
type LoopPhase string

const (
	PhaseGenerate LoopPhase = "generate"
	PhaseDispatch LoopPhase = "dispatch"
	PhaseBranch   LoopPhase = "branch"
)

// LoopError carries the phase and iteration of a run failure.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, msg)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// UserMessage is the text shown in the transcript for a failed run.
func (e *LoopError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Phase) + " failed"
}

// errorMessage returns the user-facing text for any run error.
func errorMessage(err error) string {
	var loopErr *LoopError
	if errors.As(err, &loopErr) {
		return loopErr.UserMessage()
	}
	return err.Error()
}
