// Package config loads process settings from the environment and the sweep
// plan from YAML, and builds the structured logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	defaultPlanPath    = "sweep.yaml"
	defaultWorkDir     = "WD"
	defaultResultsPath = "job_data.csv"
	defaultDBPath      = "impactsweep.db"
	defaultListenAddr  = ":8080"

	envPlanPath    = "IMPACT_PLAN_PATH"
	envWorkDir     = "IMPACT_WORK_DIR"
	envResultsPath = "IMPACT_RESULTS_PATH"
	envDBPath      = "IMPACT_DB_PATH"
	envMetricsPath = "IMPACT_METRICS_PATH"
	envEngineCmd   = "IMPACT_ENGINE_CMD"
	envListenAddr  = "IMPACT_LISTEN_ADDR"
	envLogLevel    = "IMPACT_LOG_LEVEL"
)

// Config holds process configuration loaded from environment variables.
type Config struct {
	// PlanPath is the YAML sweep plan. A missing file at the default path is
	// not an error; the built-in plan is used instead.
	PlanPath    string
	WorkDir     string
	ResultsPath string
	DBPath      string
	// MetricsPath is a prometheus textfile rewritten after every combination.
	// Empty disables the export.
	MetricsPath string
	// EngineCommand launches the engine kernel adapter. Required by run; see
	// CheckEngine.
	EngineCommand string
	// ListenAddr is where the status API listens when it is enabled.
	ListenAddr string
	LogLevel   slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		PlanPath:    defaultPlanPath,
		WorkDir:     defaultWorkDir,
		ResultsPath: defaultResultsPath,
		DBPath:      defaultDBPath,
		ListenAddr:  defaultListenAddr,
		LogLevel:    slog.LevelInfo,
	}

	if v := os.Getenv(envPlanPath); v != "" {
		cfg.PlanPath = v
	}
	if v := os.Getenv(envWorkDir); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv(envResultsPath); v != "" {
		cfg.ResultsPath = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envMetricsPath); v != "" {
		cfg.MetricsPath = v
	}
	if v := os.Getenv(envEngineCmd); v != "" {
		cfg.EngineCommand = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

// ErrNoEngineCommand is returned by CheckEngine when no kernel command is set.
var ErrNoEngineCommand = errors.New("engine command is not configured")

// CheckEngine reports whether a kernel command is configured.
func (c Config) CheckEngine() error {
	if strings.TrimSpace(c.EngineCommand) == "" {
		return fmt.Errorf("%w: set %s to the command that starts the engine's bridge adapter", ErrNoEngineCommand, envEngineCmd)
	}
	return nil
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
