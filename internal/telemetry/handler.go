package telemetry

import (
	"context"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Handler passes every record to next and also emits it to the global OTel
// logger provider. With telemetry disabled the provider is a no-op and only
// next sees the records.
type Handler struct {
	next   slog.Handler
	scope  string
	attrs  []otellog.KeyValue
	prefix string
}

// NewHandler wraps next. scope names the OTel instrumentation scope.
func NewHandler(next slog.Handler, scope string) *Handler {
	return &Handler{next: next, scope: scope}
}

// Enabled implements [slog.Handler].
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements [slog.Handler].
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	var r otellog.Record
	r.SetTimestamp(rec.Time)
	r.SetBody(otellog.StringValue(rec.Message))
	r.SetSeverity(severity(rec.Level))
	r.SetSeverityText(rec.Level.String())
	r.AddAttributes(h.attrs...)
	rec.Attrs(func(a slog.Attr) bool {
		r.AddAttributes(convert(h.prefix, a)...)
		return true
	})
	global.GetLoggerProvider().Logger(h.scope).Emit(ctx, r)

	return h.next.Handle(ctx, rec)
}

// WithAttrs implements [slog.Handler].
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, convert(h.prefix, a)...)
	}
	return &c
}

// WithGroup implements [slog.Handler].
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// convert flattens a slog attribute; groups become dotted keys.
func convert(prefix string, a slog.Attr) []otellog.KeyValue {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindGroup:
		var out []otellog.KeyValue
		p := prefix
		if a.Key != "" {
			p = key + "."
		}
		for _, g := range a.Value.Group() {
			out = append(out, convert(p, g)...)
		}
		return out
	case slog.KindString:
		return []otellog.KeyValue{otellog.String(key, a.Value.String())}
	case slog.KindInt64:
		return []otellog.KeyValue{otellog.Int64(key, a.Value.Int64())}
	case slog.KindUint64:
		return []otellog.KeyValue{otellog.Int64(key, int64(a.Value.Uint64()))} //nolint:gosec // counters fit
	case slog.KindFloat64:
		return []otellog.KeyValue{otellog.Float64(key, a.Value.Float64())}
	case slog.KindBool:
		return []otellog.KeyValue{otellog.Bool(key, a.Value.Bool())}
	default:
		return []otellog.KeyValue{otellog.String(key, a.Value.String())}
	}
}
