package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/use-agent/pagefetch/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Init(config.LogConfig{Level: "info", Format: "json"}, &buf)

	slog.Debug("hidden")
	slog.Info("navigation completed", "elapsed_ms", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "navigation completed" || rec["elapsed_ms"] != float64(42) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestInit_Text(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := Init(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("settling", "delay_ms", 100)

	if !strings.Contains(buf.String(), "msg=settling") || !strings.Contains(buf.String(), "delay_ms=100") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}
