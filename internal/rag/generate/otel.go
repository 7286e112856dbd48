package generate

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startRequestSpan opens a request span for a generator call, grounded on
// the teacher's internal/llm.StartRequestSpan convention of one span per
// outbound LLM call tagged with the model name.
func startRequestSpan(ctx context.Context, operation, model string, streaming bool) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("notesrag/rag/generate").Start(ctx, operation)
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Bool("llm.streaming", streaming),
	)
	return ctx, span
}

func endRequestSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
