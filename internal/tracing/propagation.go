package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

// Headers carrying nanobot ids between the core and remote providers
const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRunID     = "X-Run-Id"
	HeaderAgentID   = "X-Agent-Id"
	HeaderSessionID = "X-Session-Id"
)

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// InjectHTTP writes the W3C trace context and the nanobot ids of ctx onto h
func InjectHTTP(ctx context.Context, h http.Header) {
	propagator.Inject(ctx, propagation.HeaderCarrier(h))

	for header, v := range map[string]string{
		HeaderTraceID:   GetTraceID(ctx),
		HeaderRunID:     GetRunID(ctx),
		HeaderAgentID:   GetAgentID(ctx),
		HeaderSessionID: GetSessionKey(ctx),
	} {
		if v != "" {
			h.Set(header, v)
		}
	}
}

// ExtractHTTP is the receiving half of InjectHTTP. Ids already set on ctx
// win over the headers.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	ctx = propagator.Extract(ctx, propagation.HeaderCarrier(h))

	if v := h.Get(HeaderTraceID); v != "" && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, v)
	}
	if v := h.Get(HeaderRunID); v != "" && GetRunID(ctx) == "" {
		ctx = WithRunID(ctx, v)
	}
	if v := h.Get(HeaderAgentID); v != "" && GetAgentID(ctx) == "" {
		ctx = WithAgentID(ctx, v)
	}
	if v := h.Get(HeaderSessionID); v != "" && GetSessionKey(ctx) == "" {
		ctx = WithSessionKey(ctx, v)
	}
	return ctx
}
