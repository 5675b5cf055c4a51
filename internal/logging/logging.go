package logging

import (
	"log/slog"
	"os"
	"strings"
)

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// For returns a child logger tagged with the owning component, so the three
// background loops can be told apart in mixed output.
func For(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return logger.With("component", component)
}
