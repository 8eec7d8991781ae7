// Package clipboard reads and writes the system clipboard.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	system "github.com/atotto/clipboard"
)

// DefaultTimeout bounds each command-line clipboard attempt.
const DefaultTimeout = 3 * time.Second

// ErrNoClipboardTool is returned when no backend could reach the clipboard.
var ErrNoClipboardTool = errors.New("no clipboard tool available")

// Backend reads and writes clipboard text.
type Backend interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// New returns the default backend: the system clipboard library with
// command-line tools as a fallback.
func New() Backend {
	return Chain{SystemBackend{}, NewCommandBackend(DefaultTimeout)}
}

// SystemBackend uses github.com/atotto/clipboard.
type SystemBackend struct{}

func (SystemBackend) Read(ctx context.Context) (string, error) {
	if system.Unsupported {
		return "", ErrNoClipboardTool
	}
	return system.ReadAll()
}

func (SystemBackend) Write(ctx context.Context, text string) error {
	if system.Unsupported {
		return ErrNoClipboardTool
	}
	return system.WriteAll(text)
}

// ClipboardTool is a clipboard command with its arguments.
type ClipboardTool struct {
	Name     string   // command, e.g. "wl-copy"
	Args     []string // arguments passed to the command
	Platform string   // "darwin", "linux", "windows", or "" for any
}

// copyTools are tried in order when writing.
var copyTools = []ClipboardTool{
	{Name: "pbcopy", Platform: "darwin"},
	{Name: "wl-copy", Platform: "linux"},
	{Name: "xclip", Args: []string{"-selection", "clipboard"}, Platform: "linux"},
	{Name: "xsel", Args: []string{"--clipboard", "--input"}, Platform: "linux"},
	{Name: "clip.exe"},
	{Name: "powershell", Args: []string{"-NoProfile", "-Command", "Set-Clipboard"}, Platform: "windows"},
}

// pasteTools are tried in order when reading.
var pasteTools = []ClipboardTool{
	{Name: "pbpaste", Platform: "darwin"},
	{Name: "wl-paste", Args: []string{"--no-newline"}, Platform: "linux"},
	{Name: "xclip", Args: []string{"-selection", "clipboard", "-o"}, Platform: "linux"},
	{Name: "xsel", Args: []string{"--clipboard", "--output"}, Platform: "linux"},
	{Name: "powershell", Args: []string{"-NoProfile", "-Command", "Get-Clipboard"}, Platform: "windows"},
}

// CommandBackend shells out to platform clipboard tools.
type CommandBackend struct {
	Copy    []ClipboardTool
	Paste   []ClipboardTool
	Timeout time.Duration
}

// NewCommandBackend returns a backend using the tools for the current OS.
func NewCommandBackend(timeout time.Duration) *CommandBackend {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandBackend{
		Copy:    ApplicableTools(copyTools, runtime.GOOS),
		Paste:   ApplicableTools(pasteTools, runtime.GOOS),
		Timeout: timeout,
	}
}

func (b *CommandBackend) Read(ctx context.Context) (string, error) {
	if len(b.Paste) == 0 {
		return "", ErrNoClipboardTool
	}
	var errs []error
	for _, tool := range b.Paste {
		content, err := b.run(ctx, tool, nil)
		if err == nil {
			return strings.TrimSuffix(content, "\n"), nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrNoClipboardTool, errors.Join(errs...))
}

func (b *CommandBackend) Write(ctx context.Context, text string) error {
	if len(b.Copy) == 0 {
		return ErrNoClipboardTool
	}
	var errs []error
	for _, tool := range b.Copy {
		_, err := b.run(ctx, tool, strings.NewReader(text))
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrNoClipboardTool, errors.Join(errs...))
}

func (b *CommandBackend) run(ctx context.Context, tool ClipboardTool, stdin *strings.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool.Name, tool.Args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", tool.Name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", tool.Name, err)
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%s: %w", tool.Name, ctx.Err())
	}
	return stdout.String(), nil
}

// Chain tries each backend in order and returns the first success.
type Chain []Backend

func (c Chain) Read(ctx context.Context) (string, error) {
	var errs []error
	for _, b := range c {
		text, err := b.Read(ctx)
		if err == nil {
			return text, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNoClipboardTool
	}
	return "", errors.Join(errs...)
}

func (c Chain) Write(ctx context.Context, text string) error {
	var errs []error
	for _, b := range c {
		err := b.Write(ctx, text)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoClipboardTool
	}
	return errors.Join(errs...)
}

// Memory is an in-process clipboard for tests and headless runs.
type Memory struct {
	mu   sync.Mutex
	text string
}

func (m *Memory) Read(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) Write(ctx context.Context, text string) error {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
	return nil
}

// ApplicableTools filters tools for a platform.
func ApplicableTools(tools []ClipboardTool, platform string) []ClipboardTool {
	var applicable []ClipboardTool
	for _, tool := range tools {
		if tool.Platform == "" || tool.Platform == platform {
			applicable = append(applicable, tool)
		}
	}
	return applicable
}
