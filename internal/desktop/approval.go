package desktop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultApprovalTimeout bounds how long an action waits for the user.
const DefaultApprovalTimeout = 30 * time.Second

// ErrApprovalTimeout is returned when the user did not answer in time.
var ErrApprovalTimeout = errors.New("timed out waiting for approval")

// ApprovalDecision is the answer to an approval request.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
)

// ApprovalRequest describes an action awaiting the user.
type ApprovalRequest struct {
	ToolName string
	Action   string
	Summary  string
}

// Approver asks the user whether an action may run. It should return when
// ctx is done.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	return f(ctx, req)
}

// AutoApprove allows everything.
var AutoApprove = ApproverFunc(func(context.Context, ApprovalRequest) (ApprovalDecision, error) {
	return ApprovalAllowed, nil
})

// ApprovalPolicy decides which actions need the user.
type ApprovalPolicy struct {
	// Allowlist holds action patterns that run without asking. Supports
	// exact names, prefix*, *suffix and *.
	Allowlist []string `yaml:"allowlist" json:"allowlist"`

	// Timeout bounds the wait for an answer.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultApprovalPolicy lets read-only actions through.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		Allowlist: []string{"screenshot", "cursor_position", "wait"},
		Timeout:   DefaultApprovalTimeout,
	}
}

// requestApproval consults the policy and, when needed, the approver.
// A timeout or denial comes back as an error for this call only.
func requestApproval(ctx context.Context, policy ApprovalPolicy, approver Approver, req ApprovalRequest) error {
	if approver == nil || matchesPattern(policy.Allowlist, req.Action) {
		return nil
	}
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := approver.Approve(ctx, req)
	if errors.Is(err, context.DeadlineExceeded) || (decision == "" && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w after %s", ErrApprovalTimeout, timeout)
	}
	if err != nil {
		return fmt.Errorf("approval failed: %w", err)
	}
	if decision != ApprovalAllowed {
		return fmt.Errorf("the user denied the %s action", req.Action)
	}
	return nil
}

// matchesPattern reports whether name matches any pattern.
func matchesPattern(patterns []string, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
			continue
		case pattern == "*", pattern == name:
			return true
		case len(pattern) > 1 && strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case len(pattern) > 1 && strings.HasPrefix(pattern, "*"):
			if strings.HasSuffix(name, strings.TrimPrefix(pattern, "*")) {
				return true
			}
		}
	}
	return false
}

// PromptApprover asks on a terminal. Answers are read line by line; "y"
// or "yes" allows.
type PromptApprover struct {
	Out io.Writer

	mu    sync.Mutex
	lines chan string
}

// NewPromptApprover reads answers from in.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	p := &PromptApprover{Out: out, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
	}()
	return p
}

func (p *PromptApprover) Approve(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.Out, "Allow %s %s? %s [y/N] ", req.ToolName, req.Action, req.Summary)
	line, err := p.ReadLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(p.Out)
			return "", err
		}
		return ApprovalDenied, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return ApprovalAllowed, nil
	default:
		return ApprovalDenied, nil
	}
}

// ReadLine returns the next input line. Callers sharing the same input,
// such as an interactive prompt loop, must read through here.
func (p *PromptApprover) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
