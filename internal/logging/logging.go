// Package logging builds the process-wide slog logger with file rotation.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kavascapital/marketfeed/internal/config"
)

// NewLogger creates a slog.Logger writing JSON to stdout and, when a log file
// is configured, to a rotated file as well.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var writer io.Writer = os.Stdout

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err == nil {
			fileLogger := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
			writer = io.MultiWriter(os.Stdout, fileLogger)
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	return slog.New(slog.NewJSONHandler(writer, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
