package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tutorcore"

// StartTurnSpan starts a span for one chat turn. conversationID may be empty
// when the turn creates a fresh conversation.
func StartTurnSpan(ctx context.Context, conversationID, chatMode string, streaming bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("chat.mode", chatMode),
			attribute.Bool("chat.streaming", streaming),
		),
	)
}

// StartArchiveSpan starts a span for a write-behind archive flush.
func StartArchiveSpan(ctx context.Context, conversationID string, messages int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "archive.flush",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("archive.messages", messages),
		),
	)
}
