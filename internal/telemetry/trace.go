package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a gateway operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "authgate/auth", "auth.Resolve",
//	    attribute.Bool("credential.bearer", creds.Bearer != ""),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common span attribute keys
const (
	// Identity attributes
	AttrIdentityID = "identity.id"

	// Policy attributes
	AttrPolicyOutcome = "policy.outcome"
	AttrPolicyRule    = "policy.rule"

	// Login attributes
	AttrLoginProvider = "login.provider"
	AttrLoginState    = "login.state"
)
