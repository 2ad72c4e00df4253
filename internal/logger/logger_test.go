package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loopweb/internal/models"
	"loopweb/internal/version"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "uppercase", input: "DEBUG", expected: slog.LevelDebug},
		{name: "mixed case", input: "Info", expected: slog.LevelInfo},
		{name: "invalid", input: "invalid", expectErr: true},
		{name: "empty", input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for input %q: %v", tt.input, err)
				return
			}
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestSetupJSONFormat(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	logger, closer, err := Setup(cfg, version.Info{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer != nil {
		t.Error("expected nil closer for stdout")
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestSetupTextFormat(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	}

	logger, closer, err := Setup(cfg, version.Info{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer != nil {
		t.Error("expected nil closer for stdout")
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestSetupStderrOutput(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}

	logger, closer, err := Setup(cfg, version.Info{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer != nil {
		t.Error("expected nil closer for stderr")
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestSetupFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	cfg := models.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, closer, err := Setup(cfg, version.Info{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer == nil {
		t.Fatal("expected non-nil closer for file output")
	}
	defer closer.Close()

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	// Write a log message and verify it appears in the file
	logger.Info("test message", "key", "value")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("log file does not contain expected message, got: %s", content)
	}
	if !strings.Contains(content, "value") {
		t.Errorf("log file does not contain expected key-value, got: %s", content)
	}
}

func TestSetupFileOutputMissingPath(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "file",
	}

	_, _, err := Setup(cfg, version.Info{})
	if err == nil {
		t.Error("expected error for file output without path")
	}
}

func TestSetupInvalidFilePath(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: "/nonexistent/directory/path/test.log",
	}

	_, _, err := Setup(cfg, version.Info{})
	if err == nil {
		t.Error("expected error for invalid file path")
	}
}

func TestSetupInvalidLevel(t *testing.T) {
	cfg := models.LoggingConfig{
		Level:  "invalid",
		Format: "json",
		Output: "stdout",
	}

	_, _, err := Setup(cfg, version.Info{})
	if err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestOpenWriter(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		filePath  string
		expectErr bool
	}{
		{name: "stdout", output: "stdout"},
		{name: "stderr", output: "stderr"},
		{name: "default fallback", output: "anything"},
		{name: "file missing path", output: "file", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, closer, err := openWriter(tt.output, tt.filePath)
			if tt.expectErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if writer == nil {
				t.Error("expected non-nil writer")
			}
			if closer != nil {
				closer.Close()
			}
		})
	}
}

func TestSetupAddsVersionFields(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "version.log")
	cfg := models.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, closer, err := Setup(cfg, version.Info{Version: "v1.1.2", GitCommit: "abc1234", BuildDate: "2026-10-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.Warn("release proxy failed")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	for _, want := range []string{`"version":"v1.1.2"`, `"git_commit":"abc1234"`, `"build_date":"2026-10-01"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log line missing %s: %s", want, data)
		}
	}
}

func TestSetupAddsInstanceID(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "instance.log")
	cfg := models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: logFile}

	logger, closer, err := Setup(cfg, version.Info{Version: "v1.2.0", InstanceID: "4f1c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.Info("started")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"instance_id":"4f1c"`) {
		t.Errorf("log line missing instance id: %s", data)
	}
}

func TestNewRedactsSecrets(t *testing.T) {
	tests := []struct {
		name   string
		format string
		attrs  []any
		hidden string
		shown  string
	}{
		{name: "token", format: "json", attrs: []any{"token", "ghp_secret"}, hidden: "ghp_secret", shown: Redacted},
		{name: "authorization", format: "text", attrs: []any{"Authorization", "Bearer abc"}, hidden: "Bearer abc", shown: Redacted},
		{name: "dsn", format: "json", attrs: []any{"dsn", "postgres://u:p@db/loop"}, hidden: "u:p@db", shown: Redacted},
		{name: "grouped", format: "json", attrs: []any{slog.Group("upstream", "token", "ghp_group")}, hidden: "ghp_group", shown: Redacted},
		{name: "plain attribute", format: "text", attrs: []any{"asset", "Loop-Setup.exe"}, shown: "Loop-Setup.exe"},
		{name: "empty token", format: "json", attrs: []any{"token", ""}, shown: `"token":""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, slog.LevelInfo, tt.format).Info("upstream configured", tt.attrs...)

			output := buf.String()
			if tt.hidden != "" && strings.Contains(output, tt.hidden) {
				t.Errorf("secret leaked into log line: %s", output)
			}
			if !strings.Contains(output, tt.shown) {
				t.Errorf("expected %q in log line: %s", tt.shown, output)
			}
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn, "text")

	logger.Info("proxy ok")
	logger.Warn("proxy failed")

	if strings.Contains(buf.String(), "proxy ok") {
		t.Error("info message should have been filtered by warn level")
	}
	if !strings.Contains(buf.String(), "proxy failed") {
		t.Error("warn message should have appeared")
	}
}
