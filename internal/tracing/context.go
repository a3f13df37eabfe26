package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	runIDKey     ctxKey = "run_id"
	agentIDKey   ctxKey = "agent_id"
	sessionKey   ctxKey = "session_id"
	requestIDKey ctxKey = "request_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// WithSessionKey tags the context with the conversation session id
func WithSessionKey(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// WithRequestID tags the context with the JSON-RPC request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetTraceID(ctx context.Context) string { return value(ctx, traceIDKey) }
func GetRunID(ctx context.Context) string { return value(ctx, runIDKey) }
func GetAgentID(ctx context.Context) string { return value(ctx, agentIDKey) }
func GetSessionKey(ctx context.Context) string { return value(ctx, sessionKey) }
func GetRequestID(ctx context.Context) string { return value(ctx, requestIDKey) }

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// NewRequestContext starts a new trace on ctx
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewAgentRunContext tags ctx with a fresh run id for agentID, keeping the
// trace and session of the caller.
func NewAgentRunContext(ctx context.Context, agentID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = NewRequestContext(ctx)
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithAgentID(ctx, agentID)
}

// LoggerFromContext returns base enriched with the ids carried by ctx
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if id := GetTraceID(ctx); id != "" {
		lc = lc.Str("traceId", id)
	}
	if id := GetRunID(ctx); id != "" {
		lc = lc.Str("runId", id)
	}
	if id := GetAgentID(ctx); id != "" {
		lc = lc.Str("agentId", id)
	}
	if id := GetSessionKey(ctx); id != "" {
		lc = lc.Str("sessionId", id)
	}
	if id := GetRequestID(ctx); id != "" {
		lc = lc.Str("requestId", id)
	}
	return lc.Logger()
}
