package llm

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const anthropicToolStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me look."}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"list_directory","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"pa"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"th\": \".\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}

event: message_stop
data: {"type":"message_stop"}

`

func newTestAnthropic(t *testing.T, baseURL string) *AnthropicAdapter {
	t.Helper()
	adapter, err := NewAnthropicAdapter(Config{
		APIKey:  "sk-ant-test",
		BaseURL: baseURL + "/",
		Model:   "claude-sonnet-4-5",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return adapter
}

func TestAnthropicAdapter_Stream(t *testing.T) {
	srv, captured := replayServer(t, http.StatusOK, "text/event-stream", anthropicToolStream)
	adapter := newTestAnthropic(t, srv.URL)

	events, err := drain(adapter.Stream(context.Background(), sampleConversation(), StreamOptions{Tools: sampleTools(), MaxTokens: 1024}))
	require.NoError(t, err)

	t.Run("should normalize text, tool calls and usage", func(t *testing.T) {
		assert.Equal(t, []StreamEventType{EventContent, EventToolCalls, EventUsage, EventDone}, eventTypes(events))
		assert.Equal(t, "Let me look.", contentOf(events))

		calls := callsOf(events)
		require.Len(t, calls, 1)
		assert.Equal(t, "toolu_01", calls[0].ID)
		assert.Equal(t, "list_directory", calls[0].Name)
		assert.JSONEq(t, `{"path":"."}`, string(calls[0].Arguments))

		assert.Equal(t, 12, events[2].Usage.PromptTokens)
		assert.Equal(t, 20, events[2].Usage.CompletionTokens)
	})

	t.Run("should send system separately and tool results as user blocks", func(t *testing.T) {
		assert.Equal(t, "/v1/messages", captured.Path)
		body := captured.body()

		assert.Equal(t, "You are a coding assistant.", gjson.Get(body, "system.0.text").String())
		assert.Equal(t, int64(1024), gjson.Get(body, "max_tokens").Int())
		assert.True(t, gjson.Get(body, "stream").Bool())

		msgs := gjson.Get(body, "messages").Array()
		require.Len(t, msgs, 3)
		assert.Equal(t, "user", msgs[0].Get("role").String())
		assert.Equal(t, "assistant", msgs[1].Get("role").String())
		assert.Equal(t, "tool_use", msgs[1].Get("content.0.type").String())
		assert.Equal(t, "call_1", msgs[1].Get("content.0.id").String())
		assert.Equal(t, "user", msgs[2].Get("role").String())
		assert.Equal(t, "tool_result", msgs[2].Get("content.0.type").String())
		assert.Equal(t, "call_1", msgs[2].Get("content.0.tool_use_id").String())

		assert.Equal(t, "list_directory", gjson.Get(body, "tools.0.name").String())
		assert.Equal(t, "path", gjson.Get(body, "tools.0.input_schema.required.0").String())
	})
}

func TestAnthropicAdapter_APIErrorBecomesErrorEvent(t *testing.T) {
	srv, _ := replayServer(t, http.StatusUnauthorized, "application/json",
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	adapter := newTestAnthropic(t, srv.URL)

	events, err := drain(adapter.Stream(context.Background(), sampleConversation(), StreamOptions{}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "anthropic")
}

func TestAnthropicAdapter_MidStreamErrorEndsTurn(t *testing.T) {
	body := `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Part"}}

event: error
data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}

`
	srv, _ := replayServer(t, http.StatusOK, "text/event-stream", body)
	adapter := newTestAnthropic(t, srv.URL)

	events, err := drain(adapter.Stream(context.Background(), sampleConversation(), StreamOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []StreamEventType{EventContent, EventError}, eventTypes(events))
}

func TestAnthropicMessages_MergesConsecutiveToolResults(t *testing.T) {
	ok := `{"success":true}`
	failed := `{"success":false,"error":"boom"}`
	msgs := []Message{
		TextMessage(RoleSystem, "sys"),
		TextMessage(RoleUser, "go"),
		{Role: RoleAssistant, ToolCalls: []ToolCallRef{
			{ID: "a", Name: "read_file", Arguments: []byte(`{}`)},
			{ID: "b", Name: "read_file"},
		}},
		{Role: RoleTool, Content: &ok, ToolCallID: "a"},
		{Role: RoleTool, Content: &failed, ToolCallID: "b"},
	}

	system, params := anthropicMessages(msgs)
	assert.Equal(t, "sys", system)
	require.Len(t, params, 3)
	assert.Len(t, params[2].Content, 2)

	assert.False(t, isFailedResult(ok))
	assert.True(t, isFailedResult(failed))
	assert.False(t, isFailedResult("plain text"))
}

func TestNewAnthropicAdapter_RequiresKey(t *testing.T) {
	_, err := NewAnthropicAdapter(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
