// Package llm normalizes streaming chat APIs from several LLM vendors into one
// event protocol.
//
// Invariants:
// - A stream yields zero or more content/tool_calls/usage events and ends with
//   exactly one done or error event, unless a hard failure is yielded instead.
// - Tool calls are only emitted once their argument stream has closed.
// - An adapter instance serves at most one stream at a time.
//
// Usage:
//
//	adapter, _ := llm.DefaultRegistry().New("anthropic", llm.Config{APIKey: key, Model: "claude-sonnet-4-5"})
//	for ev, err := range adapter.Stream(ctx, messages, llm.StreamOptions{MaxTokens: 4096}) {
//		if err != nil {
//			return err
//		}
//		_ = ev
//	}
package llm
