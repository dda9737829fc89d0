package llm

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAccumulator(t *testing.T) {
	t.Run("should reassemble fragments regardless of chunking", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		acc.Begin(0, "call_1", "read_file")
		for _, frag := range []string{`{"pa`, `th":`, ` "main`, `.go"}`} {
			acc.AppendArguments(0, frag)
		}

		call, ok := acc.Close(0)
		require.True(t, ok)
		assert.Equal(t, "call_1", call.ID)
		assert.Equal(t, "read_file", call.Name)
		assert.JSONEq(t, `{"path":"main.go"}`, string(call.Arguments))
		assert.False(t, acc.Pending())
	})

	t.Run("should keep calls separate by index", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		acc.Begin(1, "b", "second")
		acc.Begin(0, "a", "first")
		acc.AppendArguments(1, `{"n":2}`)
		acc.AppendArguments(0, `{"n":1}`)

		calls := acc.CloseAll()
		require.Len(t, calls, 2)
		assert.Equal(t, "first", calls[0].Name)
		assert.Equal(t, "second", calls[1].Name)
		assert.JSONEq(t, `{"n":1}`, string(calls[0].Arguments))
	})

	t.Run("should default missing arguments to an empty object", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		acc.Begin(0, "a", "noargs")

		calls := acc.CloseAll()
		require.Len(t, calls, 1)
		assert.Equal(t, "{}", string(calls[0].Arguments))
		assert.Empty(t, calls[0].ArgumentsError)
	})

	t.Run("should mark cut-off arguments invalid", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		acc.Begin(0, "toolu_1", "list_directory")
		acc.AppendArguments(0, `{"path":"internal/sec`)

		calls := acc.CloseAll()
		require.Len(t, calls, 1)
		assert.Equal(t, "list_directory", calls[0].Name)
		assert.Equal(t, ErrTruncatedArguments, calls[0].ArgumentsError)
		assert.Equal(t, "{}", string(calls[0].Arguments))
	})

	t.Run("should synthesize unique ids within a turn", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		acc.Begin(0, "", "a")
		acc.Begin(1, "", "b")

		calls := acc.CloseAll()
		require.Len(t, calls, 2)
		assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
		assert.True(t, strings.HasSuffix(calls[0].ID, "_0"))
		assert.True(t, strings.HasSuffix(calls[1].ID, "_1"))
		assert.NotEqual(t, calls[0].ID, calls[1].ID)
	})

	t.Run("should report nothing for an unknown index", func(t *testing.T) {
		acc := NewToolCallAccumulator(zerolog.Nop())
		_, ok := acc.Close(3)
		assert.False(t, ok)
		assert.Nil(t, acc.CloseAll())
	})
}
