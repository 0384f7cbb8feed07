package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// SetupLogger creates a new structured logger with OpenTelemetry integration
func SetupLogger(level string) (*slog.Logger, error) {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	handler := &TracedHandler{
		Handler: slog.NewJSONHandler(os.Stdout, opts),
	}

	return slog.New(handler), nil
}

// TracedHandler is a slog handler that adds OpenTelemetry trace context
// to every record emitted inside an active span.
type TracedHandler struct {
	slog.Handler
}

// Handle adds trace context to log records
func (h *TracedHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
		if span.SpanContext().IsSampled() {
			r.AddAttrs(slog.Bool("sampled", true))
		}
	}

	return h.Handler.Handle(ctx, r)
}

// WithContext returns a logger carrying the trace attributes found in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}

	attrs := []any{
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	}
	if span.SpanContext().IsSampled() {
		attrs = append(attrs, "sampled", true)
	}

	return logger.With(attrs...)
}
