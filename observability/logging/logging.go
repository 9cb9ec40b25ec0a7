package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	envLevel      = "LOG_LEVEL"
	envFile       = "LOG_FILE"
	envFileMaxMB  = "LOG_FILE_MAX_MB"
	envFileBackup = "LOG_FILE_BACKUPS"
)

// ParseLevel maps a textual level to slog. Unknown values fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Output returns the log sink: stdout, or stdout plus a rotated file when
// LOG_FILE is set.
func Output() io.Writer {
	path := strings.TrimSpace(os.Getenv(envFile))
	if path == "" {
		return os.Stdout
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    intFromEnv(envFileMaxMB, 100),
		MaxBackups: intFromEnv(envFileBackup, 5),
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotator)
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// Setup installs a JSON slog logger as the process default, bridges the
// standard log package onto it and returns it. Level and file output come
// from LOG_LEVEL and LOG_FILE.
func Setup(service, env string) *slog.Logger {
	return SetupWriter(Output(), service, env, ParseLevel(os.Getenv(envLevel)))
}

// SetupWriter is Setup with an explicit sink and level.
func SetupWriter(w io.Writer, service, env string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redactAttr(attr)
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
