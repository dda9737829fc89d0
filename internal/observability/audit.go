package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Type      string
	Timestamp time.Time
	Actor     string // session id
	Action    string // "execute:<tool>" or "confirm:<tool>"
	Status    string
	Metadata  map[string]interface{}
}

// AuditLogger appends JSON lines describing tool executions and
// confirmation decisions.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger writes events to w. closer may be nil.
func NewAuditLogger(w io.Writer, closer io.Closer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		closer: closer,
	}
}

var auditInst atomic.Pointer[AuditLogger]

// GetAuditLogger returns the process audit logger. Until InitAuditLogger
// succeeds, events are discarded so nothing reaches the terminal.
func GetAuditLogger() *AuditLogger {
	if a := auditInst.Load(); a != nil {
		return a
	}
	auditInst.CompareAndSwap(nil, NewAuditLogger(io.Discard, nil))
	return auditInst.Load()
}

// InitAuditLogger points the process audit logger at path, creating its directory.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if prev := auditInst.Swap(NewAuditLogger(file, file)); prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Record writes event and mirrors it onto the active span, if any.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("at", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if traceID != "" {
		entry = entry.Str("trace_id", traceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Fields(map[string]interface{}{"metadata": event.Metadata})
	}
	entry.Send()
}

func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.New(io.Discard)
	return err
}

func RecordToolAudit(ctx context.Context, toolName, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   "execute:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConfirmationAudit logs the decision taken for an unsafe tool call.
func RecordConfirmationAudit(ctx context.Context, toolName, actor, decision string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "security",
		Actor:    actor,
		Action:   "confirm:" + toolName,
		Status:   decision,
		Metadata: metadata,
	})
}
