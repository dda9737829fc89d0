package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for one Chat invocation
	TurnIDKey ContextKey = "turn_id"
	// SessionIDKey is the context key for the conversation session
	SessionIDKey ContextKey = "session_id"
	// ToolCallIDKey is the context key for the tool call being executed
	ToolCallIDKey ContextKey = "tool_call_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	TurnID     string
	SessionID  string
	ToolCallID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithToolCallID adds a tool call ID to the context
func WithToolCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, callID)
}

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string { return value(ctx, TurnIDKey) }

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string { return value(ctx, SessionIDKey) }

// GetToolCallID retrieves the tool call ID from the context
func GetToolCallID(ctx context.Context) string { return value(ctx, ToolCallIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		TurnID:     GetTurnID(ctx),
		SessionID:  GetSessionID(ctx),
		ToolCallID: GetToolCallID(ctx),
	}
}

// NewTurnContext prepares the context for one Chat invocation: it keeps an
// existing trace ID, generates a fresh turn ID and records the session.
func NewTurnContext(ctx context.Context, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTurnID(ctx, NewTurnID())
	if sessionID != "" {
		ctx = WithSessionID(ctx, sessionID)
	}
	return ctx
}

// LoggerFromContext adds tracing fields from ctx to a zerolog logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		fields = fields.Str("turn_id", tc.TurnID)
	}
	if tc.SessionID != "" {
		fields = fields.Str("session_id", tc.SessionID)
	}
	if tc.ToolCallID != "" {
		fields = fields.Str("tool_call_id", tc.ToolCallID)
	}
	return fields.Logger()
}
