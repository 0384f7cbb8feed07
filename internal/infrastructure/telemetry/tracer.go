package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// scopeName identifies the instrumentation scope on every span this
// service emits.
const scopeName = "github.com/controlledtrade/substance-compliance-backend"

// StartHTTPSpan opens a server-kind span for an incoming request. The
// returned context carries the span so handlers and logs can pick up the
// trace IDs.
func StartHTTPSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(path),
		),
	)
}

// EndHTTPSpan records the response status and closes the span. Server
// errors mark the span failed.
func EndHTTPSpan(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}
