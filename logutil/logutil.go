// Package logutil builds the text logger used by the command line and adds a
// trace level below debug for per-chunk detail.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jmorganca/ollama2gguf/format"
)

const LevelTrace = slog.LevelDebug - 4

// NewLogger returns a text logger writing to w. Records carry their source
// file at debug level and below.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.LevelKey:
		if level, ok := attr.Value.Any().(slog.Level); ok && level == LevelTrace {
			attr.Value = slog.StringValue("TRACE")
		}
	case slog.SourceKey:
		if source, ok := attr.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
	}

	return attr
}

// Bytes is an attribute holding a byte count in binary units.
func Bytes(key string, n int64) slog.Attr {
	return slog.String(key, format.HumanBytes2(n))
}

func Trace(msg string, args ...any) {
	trace(context.Background(), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	trace(ctx, msg, args...)
}

// trace logs to the default logger, attributing the record to the caller of
// Trace or TraceContext.
func trace(ctx context.Context, msg string, args ...any) {
	logger := slog.Default()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}
