package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/harun/coda/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(id, name string) llm.ToolCallRef {
	return llm.ToolCallRef{ID: id, Name: name, Arguments: json.RawMessage(`{"path":"."}`)}
}

// addPairs appends n single-call turns with their results.
func addPairs(t *testing.T, s *Store, n int, output string) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("call_%02d", i)
		require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call(id, "list_directory")}))
		require.NoError(t, s.AddToolResult(id, "list_directory", output))
	}
}

func TestStore_New(t *testing.T) {
	s := New("You are helpful.", Metadata{Provider: "anthropic", Model: "claude"})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are helpful.", msgs[0].Text())

	meta := s.Metadata()
	assert.NotEmpty(t, meta.SessionID)
	assert.False(t, meta.StartedAt.IsZero())
	assert.Equal(t, "anthropic", meta.Provider)
}

func TestStore_AddAssistantMessage(t *testing.T) {
	t.Run("should store null content when calls are present", func(t *testing.T) {
		s := New("sys", Metadata{})
		require.NoError(t, s.AddAssistantMessage("ignored text", []llm.ToolCallRef{call("a", "read_file")}))

		msg := s.Messages()[1]
		assert.Nil(t, msg.Content)
		assert.Len(t, msg.ToolCalls, 1)

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"content":null`)
	})

	t.Run("should reject an assistant message with neither content nor calls", func(t *testing.T) {
		s := New("sys", Metadata{})
		assert.ErrorIs(t, s.AddAssistantMessage("", nil), ErrEmptyAssistant)
		assert.ErrorIs(t, s.AddMessage(llm.RoleAssistant, ""), ErrEmptyAssistant)
	})

	t.Run("should reject calls without id or name and reused ids", func(t *testing.T) {
		s := New("sys", Metadata{})
		assert.ErrorIs(t, s.AddAssistantMessage("", []llm.ToolCallRef{{ID: "", Name: "x"}}), ErrInvalidToolCall)
		assert.ErrorIs(t, s.AddAssistantMessage("", []llm.ToolCallRef{{ID: "a", Name: ""}}), ErrInvalidToolCall)
		assert.ErrorIs(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "x"), call("a", "y")}), ErrInvalidToolCall)

		require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "x")}))
		assert.ErrorIs(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "x")}), ErrInvalidToolCall)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("should normalize missing arguments", func(t *testing.T) {
		s := New("sys", Metadata{})
		require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{{ID: "a", Name: "x"}}))
		assert.Equal(t, "{}", string(s.Messages()[1].ToolCalls[0].Arguments))
	})
}

func TestStore_AddToolResult(t *testing.T) {
	s := New("sys", Metadata{})
	require.NoError(t, s.AddMessage(llm.RoleUser, "list files"))
	require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "list_directory"), call("b", "read_file")}))

	assert.Len(t, s.PendingCalls(), 2)

	require.NoError(t, s.AddToolResult("a", "", `{"success":true}`))
	assert.ErrorIs(t, s.AddToolResult("a", "", `{}`), ErrDuplicateToolResult)
	assert.ErrorIs(t, s.AddToolResult("zzz", "", `{}`), ErrOrphanToolResult)

	pending := s.PendingCalls()
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	require.NoError(t, s.AddToolResult("b", "read_file", `{"success":true}`))
	msgs := s.Messages()
	assert.Equal(t, "list_directory", msgs[3].ToolName)
	assert.NoError(t, Validate(msgs))
}

func TestStore_AddMessageRejectsToolRole(t *testing.T) {
	s := New("sys", Metadata{})
	assert.ErrorIs(t, s.AddMessage(llm.RoleTool, "x"), ErrInvalidRole)
}

func TestStore_Clear(t *testing.T) {
	s := New("sys", Metadata{})
	require.NoError(t, s.AddMessage(llm.RoleUser, "hi"))
	require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "x")}))

	s.Clear()

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sys", msgs[0].Text())
	assert.Empty(t, s.PendingCalls())

	// Ids from before the clear may be reused.
	require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("a", "x")}))
}

func TestStore_MessagesReturnsCopy(t *testing.T) {
	s := New("sys", Metadata{})
	require.NoError(t, s.AddMessage(llm.RoleUser, "original"))

	msgs := s.Messages()
	changed := "changed"
	msgs[1].Content = &changed
	*msgs[0].Content = "mutated"

	fresh := s.Messages()
	assert.Equal(t, "original", fresh[1].Text())
	assert.Equal(t, "sys", fresh[0].Text())
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := New("sys", Metadata{WorkingDirectory: "/work"})
	require.NoError(t, s.AddMessage(llm.RoleUser, "list"))
	addPairs(t, s, 3, `{"success":true}`)
	require.NoError(t, s.AddMessage(llm.RoleAssistant, "Done."))

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored := New("other", Metadata{})
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, s.Messages()[len(s.Messages())-1].Text(), restored.Messages()[restored.Len()-1].Text())
	assert.Equal(t, "/work", restored.Metadata().WorkingDirectory)
	assert.Equal(t, s.Metadata().SessionID, restored.Metadata().SessionID)

	// Answered ids stay answered after a restore.
	assert.ErrorIs(t, restored.AddToolResult("call_00", "", "{}"), ErrDuplicateToolResult)

	t.Run("should reject a broken log", func(t *testing.T) {
		broken := snap
		broken.Messages = append([]llm.Message{}, snap.Messages[:2]...)
		content := `{}`
		broken.Messages = append(broken.Messages, llm.Message{Role: llm.RoleTool, Content: &content, ToolCallID: "ghost"})
		assert.ErrorIs(t, restored.Restore(broken), ErrIntegrity)
	})

	t.Run("should require a leading system message", func(t *testing.T) {
		assert.ErrorIs(t, restored.Restore(Snapshot{}), ErrIntegrity)
	})
}

func TestStore_Stats(t *testing.T) {
	s := New("sys", Metadata{})
	addPairs(t, s, 2, "ok")
	require.NoError(t, s.AddAssistantMessage("", []llm.ToolCallRef{call("open", "x")}))

	st := s.Stats()
	assert.Equal(t, 6, st.Messages)
	assert.Equal(t, 2, st.ToolMessages)
	assert.Equal(t, 1, st.PendingCalls)
	assert.Greater(t, st.EstimatedTokens, 0)
}

func TestValidate(t *testing.T) {
	text := "hi"
	result := "{}"
	tests := []struct {
		name     string
		messages []llm.Message
		wantErr  bool
	}{
		{
			name:     "plain conversation",
			messages: []llm.Message{llm.TextMessage(llm.RoleSystem, "s"), llm.TextMessage(llm.RoleUser, "u")},
		},
		{
			name: "answered call",
			messages: []llm.Message{
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallRef{call("a", "x")}},
				{Role: llm.RoleTool, Content: &result, ToolCallID: "a"},
			},
		},
		{
			name:     "unanswered call",
			messages: []llm.Message{{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallRef{call("a", "x")}}},
			wantErr:  true,
		},
		{
			name:     "orphan result",
			messages: []llm.Message{{Role: llm.RoleTool, Content: &result, ToolCallID: "a"}},
			wantErr:  true,
		},
		{
			name: "result before call",
			messages: []llm.Message{
				{Role: llm.RoleTool, Content: &result, ToolCallID: "a"},
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallRef{call("a", "x")}},
			},
			wantErr: true,
		},
		{
			name: "duplicate result",
			messages: []llm.Message{
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallRef{call("a", "x")}},
				{Role: llm.RoleTool, Content: &result, ToolCallID: "a"},
				{Role: llm.RoleTool, Content: &result, ToolCallID: "a"},
			},
			wantErr: true,
		},
		{
			name: "content alongside calls",
			messages: []llm.Message{
				{Role: llm.RoleAssistant, Content: &text, ToolCalls: []llm.ToolCallRef{call("a", "x")}},
				{Role: llm.RoleTool, Content: &result, ToolCallID: "a"},
			},
			wantErr: true,
		},
		{
			name:     "empty assistant",
			messages: []llm.Message{{Role: llm.RoleAssistant}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.messages)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIntegrity)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	msg := llm.TextMessage(llm.RoleUser, strings.Repeat("a", 400))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	want := (len(raw) + CharsPerToken - 1) / CharsPerToken
	assert.Equal(t, want, EstimateMessageTokens(msg))
}
