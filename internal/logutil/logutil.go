// Package logutil configures the process-wide slog logger. The default
// "pretty" format is a flat timestamped line per record; "json" and "text"
// switch to the stock handlers for log shippers.
package logutil

import (
	"log/slog"
	"os"
	"strings"
)

func Configure(debug bool, format, levelName string) {
	opts := &slog.HandlerOptions{Level: resolveLevel(debug, levelName)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		opts.ReplaceAttr = redactAttr
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		opts.ReplaceAttr = redactAttr
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		// The pretty handler redacts while formatting fields itself.
		handler = NewPrettyHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// resolveLevel maps an explicit level name first; absent one, the debug
// flag decides between debug and info.
func resolveLevel(debug bool, levelName string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelName)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
