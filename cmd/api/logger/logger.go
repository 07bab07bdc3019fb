package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Init builds the JSON logger for the given level, installs it as the slog default
// and returns it. Unknown levels fall back to info.
func Init(levelStr string) *slog.Logger {
	return initWith(os.Stdout, levelStr)
}

func initWith(w io.Writer, levelStr string) *slog.Logger {
	level, ok := parseLevel(levelStr)
	if !ok {
		slog.Warn("invalid LOG_LEVEL, defaulting to info", "configured_level", levelStr)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	l := slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(l)
	return l
}

func parseLevel(levelStr string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
