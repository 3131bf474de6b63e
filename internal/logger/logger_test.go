package logger

import (
	"bytes"
	"strings"
	"testing"
)

func resetLogger() {
	Init(Options{})
}

func TestInit_DefaultLevel_Info(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	Info("test info")
	if !strings.Contains(buf.String(), "test info") {
		t.Error("Info message should be logged at default level")
	}

	buf.Reset()

	Debug("test debug")
	if strings.Contains(buf.String(), "test debug") {
		t.Error("Debug message should not be logged at default level")
	}
}

func TestInit_DebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Output: buf})
	defer resetLogger()

	Debug("test debug message")
	if !strings.Contains(buf.String(), "test debug message") {
		t.Error("Debug message should be logged when Debug=true")
	}
}

func TestInit_QuietLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Quiet: true, Output: buf})
	defer resetLogger()

	Info("test info")
	if strings.Contains(buf.String(), "test info") {
		t.Error("Info message should not be logged when Quiet=true")
	}

	Warn("test warn")
	if strings.Contains(buf.String(), "test warn") {
		t.Error("Warn message should not be logged when Quiet=true")
	}

	Error("test error")
	if !strings.Contains(buf.String(), "test error") {
		t.Error("Error message should be logged when Quiet=true")
	}
}

func TestInit_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{JSON: true, Output: buf})
	defer resetLogger()

	Info("test message")

	output := buf.String()
	if !strings.Contains(output, "{") || !strings.Contains(output, "}") {
		t.Error("JSON format should produce JSON output")
	}
	if !strings.Contains(output, "test message") {
		t.Error("JSON output should contain the message")
	}
	if !strings.Contains(output, "level") {
		t.Error("JSON output should contain level field")
	}
}

func TestWith_ReturnsLoggerWithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	l := With("key", "value")
	if l == nil {
		t.Fatal("With() returned nil")
	}

	l.Info("test with attrs")

	output := buf.String()
	if !strings.Contains(output, "test with attrs") {
		t.Error("expected message in output")
	}
	if !strings.Contains(output, "key") || !strings.Contains(output, "value") {
		t.Error("expected attributes in output")
	}
}

func TestQuiet_OverridesDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Quiet: true, Output: buf})
	defer resetLogger()

	Debug("debug message")
	Info("info message")
	Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug should not be logged when Quiet=true")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info should not be logged when Quiet=true")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error should be logged when Quiet=true")
	}
}
