package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// SessionLayout formats the process session id stamped on every audit record.
const SessionLayout = "20060102_150405"

func NewSessionID(start time.Time) string {
	return start.Format(SessionLayout)
}

func NewJSONLogger(service, level, sessionID string) *slog.Logger {
	return newJSONLogger(os.Stdout, service, level, sessionID)
}

func newJSONLogger(w io.Writer, service, level, sessionID string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler).With("service", service)
	if sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	return logger
}

func parseLevel(level string) slog.Level {
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
