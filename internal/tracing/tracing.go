// Package tracing wires the turn runtime into OpenTelemetry's span API
// (spec §4.10 note: the teacher's internal/tracing recorded spans to its
// managed-mode Postgres store; here completed spans are recorded into the
// same decision journal that already carries turn and tool-call entries,
// so a single NDJSON file is the one audit trail instead of a second sink).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/cursorclaw/agentcore/internal/journal"
)

// journalExporter adapts journal.Journal into an otel SpanExporter.
type journalExporter struct {
	jrnl *journal.Journal
}

func (e *journalExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.jrnl == nil {
		return nil
	}
	for _, s := range spans {
		attrs := make(map[string]interface{}, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		entry := journal.DecisionEntry{
			At:      s.EndTime(),
			Type:    "span",
			Summary: s.Name(),
			Metadata: map[string]interface{}{
				"trace_id":    s.SpanContext().TraceID().String(),
				"span_id":     s.SpanContext().SpanID().String(),
				"duration_ms": s.EndTime().Sub(s.StartTime()).Milliseconds(),
				"status":      s.Status().Code.String(),
				"attributes":  attrs,
			},
		}
		if err := e.jrnl.Append(entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *journalExporter) Shutdown(context.Context) error { return nil }

// NewProvider builds a TracerProvider whose completed spans land in jrnl
// rather than an OTLP collector. Passing a nil jrnl yields a provider that
// drops spans after building them, useful for callers that only want the
// trace-context propagation behavior.
func NewProvider(serviceName string, jrnl *journal.Journal) *sdktrace.TracerProvider {
	res := sdkresource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&journalExporter{jrnl: jrnl}),
		sdktrace.WithResource(res),
	)
}

// Tracer resolves a named tracer from the globally installed provider, or
// a no-op tracer if none has been installed via otel.SetTracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
