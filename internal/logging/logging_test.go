package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskingbot-bridge/internal/config"
)

func TestStdioWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, closeFn, err := New(config.ServerConfig{Name: "test", LogFile: path, LogLevel: "debug"}, Options{Stdio: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("hello", zap.String("batch_id", "b1"))
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"hello"`) || !strings.Contains(line, `"batch_id":"b1"`) {
		t.Errorf("expected JSON line with fields, got %q", line)
	}
	if !strings.Contains(line, `"service":"test"`) {
		t.Errorf("expected service field, got %q", line)
	}
}

func TestStdioWithoutFileIsSilent(t *testing.T) {
	logger, closeFn, err := New(config.ServerConfig{Name: "test"}, Options{Stdio: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a no-op logger when stdio has no log file")
	}
}

func TestStdioUnopenableFileIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "bridge.log")
	logger, closeFn, err := New(config.ServerConfig{Name: "test", LogFile: path}, Options{Stdio: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a no-op logger when the log file cannot be opened")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, expected := range tests {
		if got := parseLevel(in); got != expected {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, expected, got)
		}
	}
}

func TestLevelOverride(t *testing.T) {
	logger, closeFn, err := New(config.ServerConfig{Name: "test", LogLevel: "error"}, Options{Level: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected override to enable debug")
	}
}
