package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtractHTTP(t *testing.T) {
	t.Run("carries nanobot ids", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = WithRunID(ctx, "run-1")
		ctx = WithAgentID(ctx, "math")
		ctx = WithSessionKey(ctx, "s1")

		h := http.Header{}
		InjectHTTP(ctx, h)
		assert.Equal(t, "trace-1", h.Get(HeaderTraceID))
		assert.Equal(t, "run-1", h.Get(HeaderRunID))

		out := ExtractHTTP(context.Background(), h)
		assert.Equal(t, "trace-1", GetTraceID(out))
		assert.Equal(t, "run-1", GetRunID(out))
		assert.Equal(t, "math", GetAgentID(out))
		assert.Equal(t, "s1", GetSessionKey(out))
	})

	t.Run("omits empty ids", func(t *testing.T) {
		h := http.Header{}
		InjectHTTP(context.Background(), h)
		assert.Empty(t, h.Get(HeaderTraceID))
		assert.Empty(t, h.Get(HeaderSessionID))
	})

	t.Run("keeps ids already on the context", func(t *testing.T) {
		h := http.Header{}
		h.Set(HeaderTraceID, "from-header")

		out := ExtractHTTP(WithTraceID(context.Background(), "local"), h)
		assert.Equal(t, "local", GetTraceID(out))
	})

	t.Run("carries the W3C span context", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		ctx, span := tp.Tracer("test").Start(context.Background(), "dispatch")
		defer span.End()

		h := http.Header{}
		InjectHTTP(ctx, h)
		require.NotEmpty(t, h.Get("traceparent"))

		remote := trace.SpanContextFromContext(ExtractHTTP(context.Background(), h))
		assert.True(t, remote.IsRemote())
		assert.Equal(t, span.SpanContext().TraceID(), remote.TraceID())
	})
}
