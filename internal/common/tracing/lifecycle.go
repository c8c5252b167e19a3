package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lifecycleTracerName = "mcphost-lifecycle"

func lifecycleTracer() trace.Tracer {
	return Tracer(lifecycleTracerName)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := lifecycleTracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, span
}

// TraceStart creates the root span of a start operation.
func TraceStart(ctx context.Context, trigger string, port int) (context.Context, trace.Span) {
	return startSpan(ctx, "lifecycle.start",
		attribute.String("trigger", trigger),
		attribute.Int("port", port),
	)
}

// TraceStop creates the root span of a stop operation.
func TraceStop(ctx context.Context, pid int) (context.Context, trace.Span) {
	return startSpan(ctx, "lifecycle.stop", attribute.Int("pid", pid))
}

// TraceProvision creates a span covering binary resolution and download.
func TraceProvision(ctx context.Context, path string) (context.Context, trace.Span) {
	return startSpan(ctx, "agent.provision", attribute.String("path", path))
}

// TraceSpawn creates a span for launching the agent process.
func TraceSpawn(ctx context.Context, path string, args []string) (context.Context, trace.Span) {
	return startSpan(ctx, "agent.spawn",
		attribute.String("path", path),
		attribute.StringSlice("args", args),
	)
}

// TraceReadiness creates a span for the readiness wait.
func TraceReadiness(ctx context.Context, mode, addr string) (context.Context, trace.Span) {
	return startSpan(ctx, "agent.readiness",
		attribute.String("mode", mode),
		attribute.String("addr", addr),
	)
}

// TracePublish creates a span for writing the endpoint artifact.
func TracePublish(ctx context.Context, path, url string) (context.Context, trace.Span) {
	return startSpan(ctx, "agent.publish",
		attribute.String("path", path),
		attribute.String("url", url),
	)
}

// End records err on span (if any) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
