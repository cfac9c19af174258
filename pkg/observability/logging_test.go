package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("Expected log to contain '[INFO]', got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Error("Expected log to contain 'test message'")
	}
}

func TestLogger_DebugFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Debug("debug message")
	if buf.Len() != 0 {
		t.Errorf("Expected no output for DEBUG when level is INFO, got: %s", buf.String())
	}

	NewLogger(DEBUG, &buf).Debug("debug message")
	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Errorf("Expected DEBUG output at DEBUG level, got: %s", buf.String())
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, &buf)

	logger.Info("hidden")
	logger.Warn("warning message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("INFO should be filtered at WARN level")
	}
	if !strings.Contains(output, "[WARN]") || !strings.Contains(output, "[ERROR]") {
		t.Errorf("Expected WARN and ERROR entries, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf).WithField("embedder", "manual")

	logger.Info("test", map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	})

	output := buf.String()
	for _, want := range []string{"embedder=manual", "key1=value1", "key2=123"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected log to contain %q, got %q", want, output)
		}
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(LoggerOptions{Name: "lifecycle", Level: INFO, Output: &buf, JSON: true})

	logger.WithFields(map[string]interface{}{"expected": "angular"}).Error("consistency fault", map[string]interface{}{
		"actual": "binary quantized angular",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected a JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["@message"] != "consistency fault" {
		t.Errorf("Unexpected message: %v", entry["@message"])
	}
	if entry["@level"] != "error" {
		t.Errorf("Unexpected level: %v", entry["@level"])
	}
	if entry["@module"] != "lifecycle" {
		t.Errorf("Unexpected module: %v", entry["@module"])
	}
	if entry["expected"] != "angular" || entry["actual"] != "binary quantized angular" {
		t.Errorf("Missing fields: %v", entry)
	}
}

func TestLogger_LogOperation_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	err := logger.LogOperation("rebuild", func() error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "operation completed") || !strings.Contains(output, "operation=rebuild") {
		t.Errorf("Expected completion entry, got %q", output)
	}
}

func TestLogger_LogOperation_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	testErr := errors.New("test error")
	err := logger.LogOperationWithFields("rebuild", map[string]interface{}{"embedder": "manual"}, func() error {
		return testErr
	})
	if err != testErr {
		t.Errorf("Expected error to be returned, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "operation failed") || !strings.Contains(output, "embedder=manual") {
		t.Errorf("Expected failure entry, got %q", output)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing happens")
	logger.WithField("a", 1).Info("still nothing")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
