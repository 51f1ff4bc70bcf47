package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// spanFields returns trace_id and span_id of the span active in ctx, or nil.
func spanFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}
