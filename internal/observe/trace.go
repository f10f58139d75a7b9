package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of the voxscribe tracer.
const tracerName = "github.com/MrWong99/voxscribe"

// Tracer returns the voxscribe [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Stage starts a span named name and returns a finish function that ends it,
// marks it failed when err is non-nil, and records the elapsed seconds to
// hist (when non-nil). Use it around backend calls on the hot path:
//
//	ctx, done := observe.Stage(ctx, "asr.recognize", m.ASRDuration)
//	text, err := rec.Recognize(ctx, ...)
//	done(err)
func Stage(ctx context.Context, name string, hist metric.Float64Histogram) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, name)
	return ctx, func(err error) {
		if hist != nil {
			hist.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id when
// ctx carries an active span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
