package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envScriptsDir, "")
	t.Setenv(envPythonBin, "")
	t.Setenv(envAnalyzerTimeoutS, "")
	t.Setenv(envMaxConcurrentRuns, "")
	t.Setenv(envRunRateLimit, "")
	t.Setenv(envRunRateWindowS, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.ScriptsDir != defaultScriptsDir {
		t.Errorf("ScriptsDir = %q, want %q", cfg.ScriptsDir, defaultScriptsDir)
	}
	if cfg.PythonBin != defaultPythonBin {
		t.Errorf("PythonBin = %q, want %q", cfg.PythonBin, defaultPythonBin)
	}
	if cfg.AnalyzerTimeoutS != defaultAnalyzerTimeoutS {
		t.Errorf("AnalyzerTimeoutS = %d, want %d", cfg.AnalyzerTimeoutS, defaultAnalyzerTimeoutS)
	}
	if cfg.MaxConcurrentRuns != defaultMaxConcurrentRuns {
		t.Errorf("MaxConcurrentRuns = %d, want %d", cfg.MaxConcurrentRuns, defaultMaxConcurrentRuns)
	}
	if cfg.RunRateLimit != defaultRunRateLimit {
		t.Errorf("RunRateLimit = %d, want %d", cfg.RunRateLimit, defaultRunRateLimit)
	}
	if cfg.RunRateWindowS != defaultRunRateWindowS {
		t.Errorf("RunRateWindowS = %d, want %d", cfg.RunRateWindowS, defaultRunRateWindowS)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envScriptsDir, "/opt/checks")
	t.Setenv(envPythonBin, "/usr/bin/python3.12")
	t.Setenv(envAnalyzerTimeoutS, "30")
	t.Setenv(envMaxConcurrentRuns, "8")
	t.Setenv(envRunRateLimit, "5")
	t.Setenv(envRunRateWindowS, "120")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ScriptsDir != "/opt/checks" {
		t.Errorf("ScriptsDir = %q, want %q", cfg.ScriptsDir, "/opt/checks")
	}
	if cfg.PythonBin != "/usr/bin/python3.12" {
		t.Errorf("PythonBin = %q", cfg.PythonBin)
	}
	if cfg.AnalyzerTimeoutS != 30 {
		t.Errorf("AnalyzerTimeoutS = %d, want 30", cfg.AnalyzerTimeoutS)
	}
	if cfg.MaxConcurrentRuns != 8 {
		t.Errorf("MaxConcurrentRuns = %d, want 8", cfg.MaxConcurrentRuns)
	}
	if cfg.RunRateLimit != 5 {
		t.Errorf("RunRateLimit = %d, want 5", cfg.RunRateLimit)
	}
	if cfg.RunRateWindowS != 120 {
		t.Errorf("RunRateWindowS = %d, want 120", cfg.RunRateWindowS)
	}
}

func TestIntFromEnvRejectsGarbage(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 42},
		{"abc", 42},
		{"0", 42},
		{"-3", 42},
		{"7", 7},
	}

	for _, tt := range tests {
		t.Setenv(envAnalyzerTimeoutS, tt.value)
		got := intFromEnv(envAnalyzerTimeoutS, 42)
		if got != tt.want {
			t.Errorf("intFromEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
