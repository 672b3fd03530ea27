package logger

import (
	"testing"

	"github.com/rama-kairi/zencube/internal/config"
)

// TestNewLogger tests logger creation
func TestNewLogger(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}

	logger, err := NewLogger(cfg, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if logger == nil {
		t.Errorf("Expected logger instance, got nil")
	}
}

// TestLogLevels tests different log levels
func TestLogLevels(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stderr",
	}

	logger, err := NewLogger(cfg, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	// Test different log levels
	logger.Debug("Debug message", map[string]interface{}{"key": "value"})
	logger.Info("Info message", map[string]interface{}{"key": "value"})
	logger.Warn("Warning message", map[string]interface{}{"key": "value"})
	logger.Error("Error message", nil, map[string]interface{}{"key": "value"})
}

// TestRunAndSessionEvents exercises the domain logging helpers
func TestRunAndSessionEvents(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stderr",
	}

	logger, err := NewLogger(cfg, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogRun("abc12345", "python3 main.py", 1200000000, 0, 42)
	logger.LogRun("abc12345", "python3 main.py", 1200000000, 1, 0)
	logger.LogSessionEvent("session_started", "abc12345", "python3 main.py", map[string]interface{}{"pid": 4242})
}

// TestParseLogLevel tests level parsing including the fallback
func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("warning") != WARN {
		t.Error("Expected 'warning' to parse as WARN")
	}
	if parseLogLevel("nonsense") != INFO {
		t.Error("Expected unknown level to default to INFO")
	}
}

// TestLogLevelString tests log level string conversion
func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.level.String() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.level.String())
			}
		})
	}
}
