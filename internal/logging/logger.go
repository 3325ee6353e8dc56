package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New writes JSON records to w; a non-empty service is attached to every record.
func New(w io.Writer, level, service string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	logger := slog.New(slog.NewJSONHandler(w, opts))
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
