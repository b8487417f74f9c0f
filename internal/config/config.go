package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "mailaudit.db"
	defaultScriptsDir        = "scripts"
	defaultPythonBin         = "python3"
	defaultAnalyzerTimeoutS  = 60
	defaultMaxConcurrentRuns = 4
	defaultRunRateLimit      = 10
	defaultRunRateWindowS    = 60

	envListenAddr        = "MAILAUDIT_LISTEN_ADDR"
	envDBPath            = "MAILAUDIT_DB_PATH"
	envLogLevel          = "MAILAUDIT_LOG_LEVEL"
	envScriptsDir        = "MAILAUDIT_SCRIPTS_DIR"
	envPythonBin         = "MAILAUDIT_PYTHON_BIN"
	envAnalyzerTimeoutS  = "MAILAUDIT_ANALYZER_TIMEOUT_S"
	envMaxConcurrentRuns = "MAILAUDIT_MAX_CONCURRENT_RUNS"
	envRunRateLimit      = "MAILAUDIT_RUN_RATE_LIMIT"
	envRunRateWindowS    = "MAILAUDIT_RUN_RATE_WINDOW_S"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr        string
	DBPath            string
	LogLevel          slog.Level
	ScriptsDir        string
	PythonBin         string
	AnalyzerTimeoutS  int
	MaxConcurrentRuns int
	RunRateLimit      int
	RunRateWindowS    int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		ScriptsDir:        defaultScriptsDir,
		PythonBin:         defaultPythonBin,
		AnalyzerTimeoutS:  defaultAnalyzerTimeoutS,
		MaxConcurrentRuns: defaultMaxConcurrentRuns,
		RunRateLimit:      defaultRunRateLimit,
		RunRateWindowS:    defaultRunRateWindowS,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envScriptsDir); v != "" {
		cfg.ScriptsDir = v
	}
	if v := os.Getenv(envPythonBin); v != "" {
		cfg.PythonBin = v
	}
	cfg.AnalyzerTimeoutS = intFromEnv(envAnalyzerTimeoutS, cfg.AnalyzerTimeoutS)
	cfg.MaxConcurrentRuns = intFromEnv(envMaxConcurrentRuns, cfg.MaxConcurrentRuns)
	cfg.RunRateLimit = intFromEnv(envRunRateLimit, cfg.RunRateLimit)
	cfg.RunRateWindowS = intFromEnv(envRunRateWindowS, cfg.RunRateWindowS)

	return cfg
}

// intFromEnv parses a positive integer from the environment, keeping the
// default on absence or garbage.
func intFromEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
