package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf})

	logger.Debug("debug suppressed")
	if got := buf.Len(); got != 0 {
		t.Fatalf("expected debug output to be suppressed, got %d bytes", got)
	}

	logger.Info("parsed messages", "messages", 3)
	if out := buf.String(); !strings.Contains(out, "parsed messages") || !strings.Contains(out, "messages=3") {
		t.Fatalf("expected info log with attributes, got %q", out)
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Verbose: true, Writer: &buf})

	logger.Debug("segment revalidated")
	if out := buf.String(); !strings.Contains(out, "segment revalidated") {
		t.Fatalf("expected debug output when verbose, got %q", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: FormatJSON, Writer: &buf})

	logger.Info("edit applied", "seq", 7)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "edit applied" || record["seq"] != float64(7) {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestSlogAdapter(t *testing.T) {
	tests := []struct {
		name string
		log  func(Logger)
		want []string
	}{
		{"debug", func(l Logger) { l.Debug("tokenized", "segments", 4) }, []string{"tokenized", "segments=4"}},
		{"info", func(l Logger) { l.Info("loaded profile", "name", "site") }, []string{"loaded profile", "name=site"}},
		{"warn", func(l Logger) { l.Warn("closest version used") }, []string{"level=WARN", "closest version used"}},
		{"error", func(l Logger) { l.Error("write failed", "err", "disk full") }, []string{"level=ERROR", "disk full"}},
		{"with", func(l Logger) { l.With("component", "session").Info("notify") }, []string{"component=session", "notify"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
			tt.log(logger)
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Fatalf("output = %q, want to contain %q", out, want)
				}
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, nil))), "registry")
	logger.Info("resolved")
	if out := buf.String(); !strings.Contains(out, "component=registry") {
		t.Fatalf("output = %q, want component attribute", out)
	}

	if _, ok := Component(nil, "registry").(*NopLogger); !ok {
		t.Fatalf("Component(nil) should return a NopLogger")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	logger.With("key", "value").Info("child message")
}
