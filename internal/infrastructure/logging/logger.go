package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/config"
)

// serviceName tags every entry so gateway logs can be told apart from the
// broker's when both go to the same collector.
const serviceName = "mqttgateway"

// Logger is the gateway's structured logger. Components receive it
// through their SetLogger or Options.Logger and usually tag it first with
// With("component", ...).
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of config.yaml.
// Every entry carries service and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(writerFor(cfg.Output), cfg, version)
}

// writerFor maps logging.output to a stream. Anything but "stderr" logs to
// stdout, which is what the container runtime collects.
func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	h := newHandler(w, cfg.Format, parseLevel(cfg.Level)).WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// newHandler returns a text handler for format "text" and JSON otherwise.
func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel reads logging.level. Unknown values log at info.
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

// With returns a child logger carrying args on every entry, for example
// log.With("component", "mqtt") for the connection manager.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the start-up logger used until config.yaml has been read:
// JSON on stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard drops every entry. Tests hand it to components that require a
// *Logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
