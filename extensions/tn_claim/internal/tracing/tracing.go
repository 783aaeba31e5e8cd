package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/trufnetwork/claimgate/extensions/tn_claim")

// Operation names
const (
	OpAuthorize = "tn_claim.authorize"
	OpMint      = "tn_claim.mint"
)

// TraceOp wraps any operation with a span
func TraceOp(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// TracedOperation wraps fn with a span and ends it with fn's error.
func TracedOperation[T any](ctx context.Context, name string,
	fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	traceCtx, end := TraceOp(ctx, name, attrs...)
	defer func() {
		// Ensure span ends even if fn panics
		if r := recover(); r != nil {
			end(nil)
			panic(r)
		}
	}()

	result, err := fn(traceCtx)
	end(err)
	return result, err
}
