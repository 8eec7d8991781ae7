package agent

// RunState is the lifecycle state of a Runner's conversation.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateAwaitingToolResult
	StateCompleted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateAwaitingToolResult:
		return "awaiting_tool_result"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a run currently owns the conversation.
func (s RunState) Active() bool {
	return s == StateRunning || s == StateAwaitingToolResult
}
