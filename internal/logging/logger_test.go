package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func syncLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(&Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
		{name: "nil output", config: &Config{Level: LevelDebug, Sync: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := NewLogger(tt.config); logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithDeviceAndElevator(t *testing.T) {
	var buf bytes.Buffer
	logger := syncLogger(&buf)

	logger.WithDevice(42).WithElevator("anxiety").Info("elevator attached")

	output := buf.String()
	if !strings.Contains(output, "device_id=42") {
		t.Errorf("Expected device_id=42 in output, got: %s", output)
	}
	if !strings.Contains(output, "elevator=anxiety") {
		t.Errorf("Expected elevator=anxiety in output, got: %s", output)
	}
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := syncLogger(&buf)

	logger.WithRequest("WRITE", 2048, 8).Debug("dispatching")

	output := buf.String()
	for _, want := range []string{"op=WRITE", "sector=2048", "sectors=8"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in output, got: %s", want, output)
		}
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := syncLogger(&buf)

	logger.WithError(errors.New("test error")).Error("operation failed")

	if output := buf.String(); !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestLoggerKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := syncLogger(&buf)

	logger.Warn("tunable rejected", "attr", "max_writes_starved", "err", errors.New("invalid input"), 7)

	output := buf.String()
	for _, want := range []string{"attr=max_writes_starved", "invalid input", "tunable rejected"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf, Sync: true, NoColor: true})

	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below warn level, got: %s", buf.String())
	}

	logger.Warnf("shown %d", 1)
	if !strings.Contains(buf.String(), "shown 1") {
		t.Errorf("Expected warn output, got: %s", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	SetDefault(syncLogger(&buf))
	Info("via default")

	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("Expected default logger output, got: %s", buf.String())
	}
}

func TestAsyncWriterClose(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 4)
	if _, err := aw.Write([]byte("line\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	aw.Close()

	if !strings.Contains(buf.String(), "line") {
		t.Errorf("Expected flushed line after Close, got: %q", buf.String())
	}
	if _, err := aw.Write([]byte("late\n")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestNop(t *testing.T) {
	Nop().Error("discarded", "k", "v")
}
