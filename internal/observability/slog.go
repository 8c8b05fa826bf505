package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/clio-agent/clio/internal/redact"
)

// NewSlogLogger builds a *slog.Logger whose records pass through the
// secret scrubber before reaching the handler. Components that want a
// plain slog surface (MCP, executor, transports) use this; the richer
// Logger wraps the same handler chain with context correlation.
func NewSlogLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.Format == "" {
		config.Format = "json"
	}
	if config.RedactionLevel == "" {
		config.RedactionLevel = redact.LevelStandard
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var inner slog.Handler
	if config.Format == "json" {
		inner = slog.NewJSONHandler(config.Output, opts)
	} else {
		inner = slog.NewTextHandler(config.Output, opts)
	}
	return slog.New(&redactingHandler{inner: inner, level: config.RedactionLevel})
}

// redactingHandler scrubs string values on their way to the inner
// handler.
type redactingHandler struct {
	inner slog.Handler
	level redact.Level
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clone := slog.NewRecord(r.Time, r.Level, redact.Redact(r.Message, h.level), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clone.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clone)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(scrubbed), level: h.level}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), level: h.level}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(redact.Redact(a.Value.String(), h.level))
	case slog.KindGroup:
		group := a.Value.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, g := range group {
			scrubbed[i] = h.redactAttr(g)
		}
		a.Value = slog.GroupValue(scrubbed...)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(redact.Redact(err.Error(), h.level))
		}
	}
	return a
}
