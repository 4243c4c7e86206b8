package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Khoregos spans.
var (
	AttrSessionID      = attribute.Key("khoregos.session.id")
	AttrAgentID        = attribute.Key("khoregos.agent.id")
	AttrTraceID        = attribute.Key("khoregos.trace.id")
	AttrToolName       = attribute.Key("khoregos.tool.name")
	AttrEventType      = attribute.Key("khoregos.audit.event_type")
	AttrSeverity       = attribute.Key("khoregos.audit.severity")
	AttrBoundaryDenied = attribute.Key("khoregos.boundary.denied")
	AttrRevertOutcome  = attribute.Key("khoregos.boundary.revert_outcome")
	AttrWebhookTarget  = attribute.Key("khoregos.webhook.target")
	AttrWebhookAttempt = attribute.Key("khoregos.webhook.attempt")
	AttrOutcome        = attribute.Key("khoregos.outcome")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartHookSpan starts a span covering one post-tool-use hook invocation.
func StartHookSpan(ctx context.Context, tracer trace.Tracer, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{AttrToolName.String(toolName)}, attrs...)
	return tracer.Start(ctx, "hook.post_tool_use",
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (webhook delivery).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
