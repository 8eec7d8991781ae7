package desktop

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
)

func TestFormatResult(t *testing.T) {
	argv := []string{"xdotool", "type", "--", "it's here"}

	text, isError := formatResult(argv, CommandResult{Stdout: []byte("ok\n")})
	if isError {
		t.Fatal("success reported as error")
	}
	for _, want := range []string{"The command `xdotool type -- 'it'\"'\"'s here'` was executed successfully.", "<stdout>\nok\n</stdout>"} {
		if !strings.Contains(text, want) {
			t.Fatalf("success text %q missing %q", text, want)
		}
	}

	text, isError = formatResult(argv, CommandResult{Stderr: []byte("boom"), ExitCode: 2})
	if !isError {
		t.Fatal("failure not reported as error")
	}
	for _, want := range []string{"There was a problem executing", "<return_code>2</return_code>", "<stderr>\nboom\n</stderr>"} {
		if !strings.Contains(text, want) {
			t.Fatalf("error text %q missing %q", text, want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":           "''",
		"plain":      "plain",
		"ctrl+s":     "ctrl+s",
		"a b":        "'a b'",
		"$HOME":      "'$HOME'",
		"don't":      `'don'"'"'t'`,
		"--sync":     "--sync",
		"/usr/bin/x": "/usr/bin/x",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecRunner(t *testing.T) {
	r := ExecRunner{}
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || string(res.Stdout) != "out\n" || string(res.Stderr) != "err\n" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := r.Run(context.Background(), "sol-definitely-not-a-command"); err == nil {
		t.Fatal("expected error for missing program")
	}
}

type runnerFunc func(ctx context.Context, name string, args ...string) (CommandResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	return f(ctx, name, args...)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCommandScreenshotterStdout(t *testing.T) {
	data := testPNG(t, 40, 20)
	var argv []string
	s := &CommandScreenshotter{Runner: runnerFunc(func(_ context.Context, name string, args ...string) (CommandResult, error) {
		argv = append([]string{name}, args...)
		return CommandResult{Stdout: data}, nil
	})}

	img, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if strings.Join(argv, " ") != strings.Join(DefaultScreenshotCommand, " ") {
		t.Fatalf("argv = %q", argv)
	}
}

func TestCommandScreenshotterFile(t *testing.T) {
	data := testPNG(t, 30, 10)
	s := &CommandScreenshotter{
		Command: []string{"scrot", "-o", FilePlaceholder},
		Runner: runnerFunc(func(_ context.Context, _ string, args ...string) (CommandResult, error) {
			return CommandResult{}, os.WriteFile(args[1], data, 0o600)
		}),
	}
	img, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if img.Bounds().Dx() != 30 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestCommandScreenshotterFailure(t *testing.T) {
	s := &CommandScreenshotter{Runner: runnerFunc(func(context.Context, string, ...string) (CommandResult, error) {
		return CommandResult{ExitCode: 1, Stderr: []byte("unable to open X server")}, nil
	})}
	_, err := s.Capture(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unable to open X server") {
		t.Fatalf("err = %v", err)
	}
}

func TestEncodeScaledPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	data, err := EncodeScaledPNG(src, Size{Width: 16, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}
