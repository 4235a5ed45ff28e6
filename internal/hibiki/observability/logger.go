// Package observability configures logging for Hibiki.
//
// Application code logs through log/slog. The Matrix client library logs
// through zerolog, so Zerolog builds a logger with the same level and
// format for it.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bdobrica/Hibiki/common/trace"
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Setup installs a text or JSON handler writing to w as the default slog
// logger and returns it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithTrace returns a child of logger that includes the trace_id from ctx.
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := trace.FromContext(ctx); id != "" {
		return logger.With("trace_id", id)
	}
	return logger
}

// Zerolog returns a zerolog logger matching level and format, tagged with
// the component name.
func Zerolog(level, format, component string, w io.Writer) zerolog.Logger {
	var lvl zerolog.Level
	switch ParseLevel(level) {
	case slog.LevelDebug:
		lvl = zerolog.DebugLevel
	case slog.LevelWarn:
		lvl = zerolog.WarnLevel
	case slog.LevelError:
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("component", component).Logger()
}
