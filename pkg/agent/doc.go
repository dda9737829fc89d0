// Package agent runs the chat loop: it streams a model turn through an
// llm.Adapter, dispatches the requested tool calls through a tool registry and
// repeats until the model stops asking for tools or the iteration ceiling is hit.
//
// Invariants:
// - The user message is stored before the first model call.
// - Tool calls from one turn run sequentially in emitted order.
// - Every stored tool call gets exactly one stored result, including calls
//   abandoned by cancellation, which get a synthetic cancelled result.
// - A failed model turn appends nothing to the conversation.
// - Each Chat sequence ends with exactly one done, error or max_iterations event.
//
// Usage:
//
//	loop, _ := agent.New(adapter, store, tools, agent.Config{AutoApprove: false, Confirm: confirm})
//	for ev := range loop.Chat(ctx, "list the files here") {
//		switch ev.Type {
//		case agent.EventContent:
//			fmt.Print(ev.Content)
//		case agent.EventError:
//			fmt.Println(ev.Err)
//		}
//	}
package agent
