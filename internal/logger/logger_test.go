package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf)).Info("hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "key=value") {
		t.Errorf("output = %q", out)
	}
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf))
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug logged at info level: %q", buf.String())
	}

	l = New(WithWriter(&buf), WithDebug(true))
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("debug not logged with WithDebug")
	}

	buf.Reset()
	l = New(WithWriter(&buf), WithLevel("error"))
	l.Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("warn logged at error level: %q", buf.String())
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf), WithFormat(FormatJSON)).Info("structured", "count", 42)

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if parsed["msg"] != "structured" || parsed["count"] != float64(42) {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestNewPretty(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf), WithFormat(FormatPretty)).Info("pretty output", "k", "v")
	if !strings.Contains(buf.String(), "pretty output") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWithWriters(t *testing.T) {
	var a, b bytes.Buffer
	New(WithWriters(&a, &b)).Info("multi")
	if !strings.Contains(a.String(), "multi") || !strings.Contains(b.String(), "multi") {
		t.Error("message not written to every writer")
	}
}

func TestNop(t *testing.T) {
	if Nop().Enabled(t.Context(), slog.LevelError) {
		t.Error("Nop logger should be disabled")
	}
}

func TestMulti(t *testing.T) {
	var text, js bytes.Buffer
	l := Multi(
		New(WithWriter(&text)),
		New(WithWriter(&js), WithFormat(FormatJSON), WithDebug(true)),
	)
	l.With("component", "test").Debug("only json")
	l.Info("both")

	if strings.Contains(text.String(), "only json") {
		t.Error("debug record reached info-level handler")
	}
	if !strings.Contains(text.String(), "both") {
		t.Error("info record missing from text handler")
	}
	lines := strings.Split(strings.TrimSpace(js.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"component":"test"`) {
		t.Errorf("json output = %q", js.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, ok)
		}
	}
}
