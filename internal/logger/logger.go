package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger = slog.Default()

// New builds a logger writing to w. Unknown levels fall back to info,
// unknown formats to text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Init reads LOG_LEVEL, LOG_FORMAT and DEBUG and installs the result as
// the process default.
func Init() *slog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if os.Getenv("DEBUG") == "true" {
		level = "debug"
	}

	Logger = New(os.Stdout, level, os.Getenv("LOG_FORMAT"))
	slog.SetDefault(Logger)
	return Logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Component returns a child logger tagged with the component name.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = Logger
	}
	return base.With("component", name)
}
