package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/config"
)

// serviceName is attached to every log record.
const serviceName = "cbusgate"

// Logger wraps slog.Logger. Every record carries the service name and
// version as default attributes. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the config file's logging section: level filter,
// json or text format, stdout or stderr destination.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg).WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a JSON/info/stdout logger for use during early startup,
// before the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// With returns a child logger carrying extra default attributes.
//
//	cgateLog := log.With("component", "cgate")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// newHandler constructs the slog handler for cfg. Unrecognised values fall
// back to JSON on stdout at info level.
func newHandler(cfg config.LoggingConfig) slog.Handler {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// parseLevel maps a config string to a slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
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
