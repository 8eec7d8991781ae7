package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandTimeout bounds one input or screenshot command.
const CommandTimeout = 30 * time.Second

// CommandResult is the outcome of a finished command.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner runs external programs. A non-zero exit is reported in
// CommandResult, not as an error; errors mean the program could not run.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() != nil {
		return result, fmt.Errorf("%s: %w", name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

const successTemplate = "The command `%s` was executed successfully.\n" +
	"(Any relative coordinate values have been converted to absolute desktop values\n" +
	"and might not match the original input parameters. This is expected.)\n" +
	"<stdout>\n%s\n</stdout>"

const errorTemplate = "There was a problem executing the command `%s`.\n" +
	"(Any relative coordinate values have been converted to absolute desktop values\n" +
	"and might not match the original input parameters. This is expected.)\n" +
	"<return_code>%d</return_code>\n" +
	"<stdout>\n%s\n</stdout>\n" +
	"<stderr>\n%s\n</stderr>"

// formatResult renders a command outcome for the model.
func formatResult(argv []string, res CommandResult) (string, bool) {
	command := displayCommand(argv)
	stdout := strings.TrimSpace(string(res.Stdout))
	if res.ExitCode == 0 {
		return fmt.Sprintf(successTemplate, command, stdout), false
	}
	stderr := strings.TrimSpace(string(res.Stderr))
	return fmt.Sprintf(errorTemplate, command, res.ExitCode, stdout, stderr), true
}

// displayCommand quotes arguments the way a shell user would type them.
func displayCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = shellQuote(arg)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("@%+=:,./-_", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
