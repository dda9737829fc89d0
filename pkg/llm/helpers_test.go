package llm

import (
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type capturedRequest struct {
	mu     sync.Mutex
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func (c *capturedRequest) body() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.Body)
}

// replayServer answers every request with a fixed status and body.
func replayServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		captured.Header = r.Header.Clone()
		captured.Body = raw
		captured.mu.Unlock()

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

// drain collects a stream, stopping at the first hard failure.
func drain(seq iter.Seq2[StreamEvent, error]) ([]StreamEvent, error) {
	var events []StreamEvent
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func contentOf(events []StreamEvent) string {
	out := ""
	for _, ev := range events {
		if ev.Type == EventContent {
			out += ev.ContentDelta
		}
	}
	return out
}

func callsOf(events []StreamEvent) []ToolCallRef {
	var calls []ToolCallRef
	for _, ev := range events {
		if ev.Type == EventToolCalls {
			calls = append(calls, ev.Calls...)
		}
	}
	return calls
}

func sampleConversation() []Message {
	call := ToolCallRef{ID: "call_1", Name: "list_directory", Arguments: []byte(`{"path":"."}`)}
	result := `{"success":true,"entries":["main.go"]}`
	return []Message{
		TextMessage(RoleSystem, "You are a coding assistant."),
		TextMessage(RoleUser, "list files"),
		{Role: RoleAssistant, ToolCalls: []ToolCallRef{call}},
		{Role: RoleTool, Content: &result, ToolCallID: "call_1", ToolName: "list_directory"},
	}
}

func sampleTools() []ToolSchema {
	return []ToolSchema{{
		Name:        "list_directory",
		Description: "List a directory",
		Parameters: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "default": "."},
				"default": map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"path"},
		},
	}}
}
