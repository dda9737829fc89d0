package agent

import (
	"github.com/harun/coda/pkg/llm"
	"github.com/harun/coda/pkg/toolexecutor"
)

// EventType tags an Event.
type EventType string

const (
	EventContent       EventType = "content"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventError         EventType = "error"
	EventDone          EventType = "done"
	EventMaxIterations EventType = "max_iterations"
)

// Event is one item of a Chat sequence.
type Event struct {
	Type EventType

	// Content is the text delta of a content event.
	Content string

	// Call is set on tool_call and tool_result events.
	Call *llm.ToolCallRef

	// Result is set on tool_result events.
	Result *toolexecutor.ToolResult

	// Err is set on error events.
	Err error

	// Usage and Iterations summarize the whole Chat on terminal events.
	Usage      llm.Usage
	Iterations int
}

// Terminal reports whether the event ends a Chat sequence.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventMaxIterations:
		return true
	}
	return false
}

// Message renders an error event's cause.
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
