package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// levelEnv selects the minimum log level: debug, info, warn or error.
const levelEnv = "SWAPLOCK_LOG_LEVEL"

// Setup configures the standard library logger to emit structured JSON on
// stdout and returns the underlying slog.Logger for richer logging within
// the service. All log lines include the service name and environment when
// provided; the minimum level comes from SWAPLOCK_LOG_LEVEL.
func Setup(service, env string) *slog.Logger {
	return SetupWriter(service, env, os.Stdout)
}

// SetupWriter is Setup with an explicit sink. Tests use it to capture output.
func SetupWriter(service, env string, out io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       levelFromEnv(os.Getenv(levelEnv)),
		ReplaceAttr: renameAttr,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies keep working.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// renameAttr maps slog's default keys onto the field names our log indexer
// expects: timestamp, severity and message.
func renameAttr(groups []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}

func levelFromEnv(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
