package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types
const (
	AuditDispatch = "dispatch"
	AuditProvider = "provider"
	AuditSecurity = "security"
)

// AuditEvent is one line of the audit trail
type AuditEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // provider instance id or client id
	Action    string                 `json:"action"`          // e.g. "invoke:get_weather", "status:OFFLINE"
	Status    string                 `json:"status"`          // "success" or a failure kind
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process audit logger. Until InitAuditLogger
// is called events are discarded.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger appends audit events to path, replacing the current logger
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	setAuditLogger(&AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	})
	return nil
}

// SetAuditWriter sends audit events to w. A nil writer discards them.
func SetAuditWriter(w io.Writer) {
	logger := zerolog.Nop()
	if w != nil {
		logger = zerolog.New(w).With().Timestamp().Logger()
	}
	setAuditLogger(&AuditLogger{logger: logger})
}

// CloseAuditLogger closes the audit file and goes back to discarding
func CloseAuditLogger() error {
	return setAuditLogger(&AuditLogger{logger: zerolog.Nop()})
}

func setAuditLogger(next *AuditLogger) error {
	auditMu.Lock()
	prev := auditInst
	auditInst = next
	auditMu.Unlock()
	return prev.Close()
}

// Record emits an audit event and mirrors it onto the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.TraceID != "" {
		entry.Str("traceId", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// RecordDispatchAudit records one tool dispatch
func RecordDispatchAudit(ctx context.Context, toolName, providerID, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditDispatch,
		Actor:    providerID,
		Action:   "invoke:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordProviderAudit records a provider status transition
func RecordProviderAudit(ctx context.Context, instanceID, from, to string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditProvider,
		Actor:    instanceID,
		Action:   "status:" + to,
		Status:   "success",
		Metadata: withEntry(metadata, "from", from),
	})
}

// RecordSecurityAudit records an authentication decision
func RecordSecurityAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditSecurity,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

func withEntry(m map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if m == nil {
		m = make(map[string]interface{}, 1)
	}
	m[key] = value
	return m
}
