package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetupWriter(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("debug line", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "debug line" || out["k"] != "v" {
		t.Errorf("unexpected record: %v", out)
	}
}

func TestSetupTextFormat(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")
	Info("dropped")
	Warn("kept")

	s := buf.String()
	if strings.Contains(s, "dropped") {
		t.Errorf("info line should be filtered at WARN: %q", s)
	}
	if !strings.Contains(s, "msg=kept") {
		t.Errorf("expected text handler output, got %q", s)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("test-comp").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
}

func TestWithWorker(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithWorker("type2#1", 2).Info("worker msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["worker"] != "type2#1" {
		t.Errorf("Expected worker 'type2#1', got %v", out["worker"])
	}
	if out["job_type"] != float64(2) {
		t.Errorf("Expected job_type 2, got %v", out["job_type"])
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithJob("job-123").Info("job msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["job_id"] != "job-123" {
		t.Errorf("Expected job_id 'job-123', got %v", out["job_id"])
	}
}
