package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	prev := logger
	logger = newLogger(&buf, "debug")
	defer func() { logger = prev }()

	cases := []struct {
		l     *slog.Logger
		key   string
		value string
	}{
		{WithComponent("supervisor"), "component", "supervisor"},
		{WithComponent("api"), "component", "api"},
	}

	for _, c := range cases {
		buf.Reset()
		c.l.Info("hello")

		var out map[string]any
		if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
			t.Fatalf("failed to decode JSON: %v", err)
		}
		if out[c.key] != c.value {
			t.Errorf("expected %s=%q, got %v", c.key, c.value, out[c.key])
		}
		if out["msg"] != "hello" {
			t.Errorf("expected msg=hello, got %v", out["msg"])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn")

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn to be logged")
	}
}
