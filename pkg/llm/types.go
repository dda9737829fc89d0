package llm

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a vendor-neutral conversation entry.
//
// Content is nil exactly when an assistant message carries tool calls.
type Message struct {
	Role       Role          `json:"role"`
	Content    *string       `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	ToolCalls  []ToolCallRef `json:"toolCalls,omitempty"`
	ToolCallID string        `json:"toolCallId,omitempty"`
	ToolName   string        `json:"toolName,omitempty"`
}

// Text returns the message content, or "" when it is null.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// TextMessage builds a message with plain text content.
func TextMessage(role Role, content string) Message {
	return Message{Role: role, Content: &content, Timestamp: time.Now()}
}

// ToolCallRef is a model-issued request to run a named tool.
type ToolCallRef struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// ArgumentsError is set when the streamed arguments could not be used
	// (cut off or malformed). Arguments is then "{}" and the call must be
	// answered with a failure instead of being run.
	ArgumentsError string `json:"-"`
}

// ErrTruncatedArguments describes a call whose argument stream did not
// form a JSON document.
const ErrTruncatedArguments = "truncated or malformed JSON"

// DecodeArguments unmarshals the call arguments into a map.
func (c ToolCallRef) DecodeArguments() (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(c.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolSchema is the vendor-neutral declaration of a callable tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// StreamOptions carries per-turn request settings.
type StreamOptions struct {
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
}

// StreamEventType discriminates StreamEvent.
type StreamEventType string

const (
	EventContent   StreamEventType = "content"
	EventToolCalls StreamEventType = "tool_calls"
	EventUsage     StreamEventType = "usage"
	EventError     StreamEventType = "error"
	EventDone      StreamEventType = "done"
)

// Usage holds token counters reported by a vendor.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add accumulates counters from another report.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// StreamEvent is one normalized item of a model turn.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	ContentDelta string          `json:"contentDelta,omitempty"`
	Calls        []ToolCallRef   `json:"calls,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// ContentEvent wraps a text delta.
func ContentEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventContent, ContentDelta: delta}
}

// ToolCallsEvent wraps completed tool calls.
func ToolCallsEvent(calls []ToolCallRef) StreamEvent {
	return StreamEvent{Type: EventToolCalls, Calls: calls}
}

// UsageEvent wraps token counters.
func UsageEvent(prompt, completion int) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &Usage{PromptTokens: prompt, CompletionTokens: completion}}
}

// ErrorEvent wraps a vendor or transport failure message.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// DoneEvent marks a successful end of turn.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}
