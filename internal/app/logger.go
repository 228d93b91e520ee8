package app

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
)

// newLogger creates the per-invocation logger. Debug output names the
// emitting file and line, and JSON records are tagged with the tool name so
// they can be picked out of an aggregated build log.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: shortSource,
	}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, handlerOpts)).With("tool", "kernelbake")
	}
	return slog.New(slog.NewTextHandler(outW, handlerOpts))
}

// shortSource reduces the source attribute to file:line.
func shortSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
	}
	return a
}
