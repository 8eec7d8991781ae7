package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	logger.Debug("calling provider", "provider", "anthropic")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if record["msg"] != "calling provider" || record["provider"] != "anthropic" || record["level"] != "DEBUG" {
		t.Fatalf("record = %v", record)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestNewLoggerRedacts(t *testing.T) {
	key := "sk-ant-api03-" + strings.Repeat("a", 40)

	tests := []struct {
		name string
		log  func(*slog.Logger)
	}{
		{name: "sensitive key", log: func(l *slog.Logger) { l.Info("configured", "api_key", "plain-value") }},
		{name: "string value", log: func(l *slog.Logger) { l.Info("request", "header", "x-api-key: "+key) }},
		{name: "message", log: func(l *slog.Logger) { l.Info("using key " + key) }},
		{name: "error value", log: func(l *slog.Logger) { l.Error("failed", "error", errors.New("bad key "+key)) }},
		{name: "custom pattern", log: func(l *slog.Logger) { l.Info("session", "cookie", "sid=internal-42") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`sid=[a-z0-9-]+`}}))
			out := buf.String()
			for _, secret := range []string{key, "plain-value", "internal-42"} {
				if strings.Contains(out, secret) {
					t.Fatalf("secret leaked: %s", out)
				}
			}
			if !strings.Contains(out, redacted) {
				t.Fatalf("nothing redacted: %s", out)
			}
		})
	}
}
