package privacy

import (
	"context"
	"log/slog"
)

// LogHandler is a slog.Handler that scrubs PII from records before
// delegating to an inner handler. Messages and string attribute values
// are scrubbed; attributes with credential-suggestive keys are redacted
// wholesale.
type LogHandler struct {
	inner    slog.Handler
	scrubber *Scrubber
}

// NewLogHandler wraps inner with PII scrubbing.
func NewLogHandler(inner slog.Handler, scrubber *Scrubber) *LogHandler {
	return &LogHandler{inner: inner, scrubber: scrubber}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, h.scrubber.ScrubText(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.scrubAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrubAttr(a)
	}
	return &LogHandler{inner: h.inner.WithAttrs(scrubbed), scrubber: h.scrubber}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: h.inner.WithGroup(name), scrubber: h.scrubber}
}

func (h *LogHandler) scrubAttr(a slog.Attr) slog.Attr {
	if IsCredentialKey(a.Key) {
		return slog.String(a.Key, redacted)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrubber.ScrubText(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		scrubbed := make([]any, 0, len(members))
		for _, m := range members {
			scrubbed = append(scrubbed, h.scrubAttr(m))
		}
		return slog.Group(a.Key, scrubbed...)
	case slog.KindAny:
		if m, ok := a.Value.Any().(map[string]any); ok {
			return slog.Any(a.Key, h.scrubber.ScrubValue(m))
		}
		return a
	default:
		return a
	}
}
