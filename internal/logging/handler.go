package logging

import (
	"context"
	"log/slog"
	"os"
)

// prettyHandler formats log records as [LEVEL hh:mm:ss] msg key=value ...,
// copied verbatim in shape from the teacher's pkg/otel.prettyHandler.
type prettyHandler struct {
	level slog.Level
	w     *os.File
	attrs []slog.Attr
	group string
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format("15:04:05")

	var buf []byte
	buf = append(buf, '[')
	buf = append(buf, r.Level.String()...)
	buf = append(buf, ' ')
	buf = append(buf, ts...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})

	buf = append(buf, '\n')
	_, err := h.w.Write(buf)
	return err
}

func (h *prettyHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, ' ')
	if h.group != "" {
		buf = append(buf, h.group...)
		buf = append(buf, '.')
	}
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, a.Value.String()...)
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &prettyHandler{level: h.level, w: h.w, attrs: newAttrs, group: h.group}
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &prettyHandler{level: h.level, w: h.w, attrs: h.attrs, group: g}
}

// teeHandler fans every record out to multiple handlers, the way the
// teacher's pkg/otel.teeHandler combines a pretty stderr handler with an
// OpenTelemetry-backed one. Here it combines the pretty stderr handler with
// an optional JSON file handler, so a run's structured log survives
// alongside driver's own fixed-width progress log.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: handlers}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: handlers}
}
