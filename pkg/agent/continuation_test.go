package agent

import (
	"context"
	"testing"

	"github.com/harun/coda/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuePolicy_ShouldContinue(t *testing.T) {
	p := NewContinuePolicy(nil, 2)

	yes := []string{
		"I fixed the parser. Let me continue with the tests.",
		"Step one is done; now I'll proceed to the next file:",
		"I'll keep going with the remaining handlers...",
	}
	for _, reply := range yes {
		assert.True(t, p.ShouldContinue(reply), reply)
	}

	no := []string{
		"",
		"All tests pass.",
		"Let me continue with the tests. Actually, everything is done.",
		"Should I continue?",
	}
	for _, reply := range no {
		assert.False(t, p.ShouldContinue(reply), reply)
	}
}

func TestContinuePolicy_Chat(t *testing.T) {
	t.Run("should re-prompt once and forward a single done", func(t *testing.T) {
		adapter := newScripted(
			textTurn("Parser fixed. Let me continue with the tests."),
			textTurn("Tests added."),
		)
		loop := newLoop(t, adapter, Config{})
		policy := NewContinuePolicy(loop, 2)

		events := collect(policy.Chat(context.Background(), "fix the parser"))

		require.Equal(t, []EventType{EventContent, EventContent, EventDone}, types(events))
		assert.Equal(t, 2, adapter.turnCount())

		msgs := loop.Store().Messages()
		assert.Equal(t, DefaultContinuePrompt, msgs[3].Text())
	})

	t.Run("should stop at the continue budget", func(t *testing.T) {
		adapter := newScripted(
			textTurn("Let me continue."),
			textTurn("Let me continue."),
			textTurn("Let me continue."),
		)
		loop := newLoop(t, adapter, Config{})
		policy := NewContinuePolicy(loop, 1)

		events := collect(policy.Chat(context.Background(), "go"))

		assert.Equal(t, EventDone, events[len(events)-1].Type)
		assert.Equal(t, 2, adapter.turnCount())
	})

	t.Run("should pass errors through without continuing", func(t *testing.T) {
		adapter := newScripted([]step{{ev: llm.ErrorEvent("boom")}})
		loop := newLoop(t, adapter, Config{})

		events := collect(NewContinuePolicy(loop, 3).Chat(context.Background(), "go"))

		require.Equal(t, []EventType{EventError}, types(events))
		assert.Equal(t, 1, adapter.turnCount())
	})
}
