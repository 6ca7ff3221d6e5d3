package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// otlpHandler is a slog.Handler that exports records via OTLP.
type otlpHandler struct {
	logger log.Logger
	attrs  []slog.Attr
	group  string
}

func newOTLPHandler(provider *sdklog.LoggerProvider, name string) *otlpHandler {
	return &otlpHandler{logger: provider.Logger(name)}
}

func (h *otlpHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *otlpHandler) Handle(ctx context.Context, r slog.Record) error {
	var logRecord log.Record
	logRecord.SetTimestamp(r.Time)
	logRecord.SetBody(log.StringValue(r.Message))
	logRecord.SetSeverity(slogLevelToOTLP(r.Level))
	logRecord.SetSeverityText(r.Level.String())

	// Trace correlation happens in the SDK: the logger's Emit derives the
	// trace ID, span ID, and flags from ctx.
	attrs := make([]log.KeyValue, 0, r.NumAttrs()+len(h.attrs))
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, slogAttrToOTLP(a))
		return true
	})
	for _, a := range h.attrs {
		attrs = append(attrs, slogAttrToOTLP(a))
	}
	logRecord.AddAttributes(attrs...)

	h.logger.Emit(ctx, logRecord)
	return nil
}

func (h *otlpHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &otlpHandler{
		logger: h.logger,
		attrs:  newAttrs,
		group:  h.group,
	}
}

func (h *otlpHandler) WithGroup(name string) slog.Handler {
	return &otlpHandler{
		logger: h.logger,
		attrs:  h.attrs,
		group:  name,
	}
}

func slogLevelToOTLP(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	case level >= slog.LevelDebug:
		return log.SeverityDebug
	default:
		return log.SeverityTrace
	}
}

func slogAttrToOTLP(a slog.Attr) log.KeyValue {
	switch a.Value.Kind() {
	case slog.KindString:
		return log.String(a.Key, a.Value.String())
	case slog.KindInt64:
		return log.Int64(a.Key, a.Value.Int64())
	case slog.KindUint64:
		return log.Int64(a.Key, int64(a.Value.Uint64()))
	case slog.KindFloat64:
		return log.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return log.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return log.Int64(a.Key, a.Value.Duration().Milliseconds())
	case slog.KindTime:
		return log.Int64(a.Key, a.Value.Time().Unix())
	default:
		return log.String(a.Key, a.Value.String())
	}
}
