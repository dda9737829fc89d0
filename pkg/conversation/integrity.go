package conversation

import (
	"errors"
	"fmt"

	"github.com/harun/coda/pkg/llm"
)

// ErrIntegrity is wrapped by every Validate failure.
var ErrIntegrity = errors.New("conversation integrity violated")

// Validate checks chain integrity and the assistant message invariants:
// every call id is unique and answered by exactly one later tool message,
// no tool message is orphaned, and an assistant message has null content
// exactly when it carries calls.
func Validate(messages []llm.Message) error {
	calls := map[string]int{}
	answered := map[string]bool{}

	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			if msg.HasToolCalls() && msg.Content != nil {
				return fmt.Errorf("%w: message %d has content and tool calls", ErrIntegrity, i)
			}
			if !msg.HasToolCalls() && msg.Content == nil {
				return fmt.Errorf("%w: message %d has neither content nor tool calls", ErrIntegrity, i)
			}
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					return fmt.Errorf("%w: message %d has a tool call without id", ErrIntegrity, i)
				}
				if _, dup := calls[call.ID]; dup {
					return fmt.Errorf("%w: tool call id %q reused", ErrIntegrity, call.ID)
				}
				calls[call.ID] = i
			}
		case llm.RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("%w: tool message %d has no toolCallId", ErrIntegrity, i)
			}
			if _, ok := calls[msg.ToolCallID]; !ok {
				return fmt.Errorf("%w: tool message %d: %w", ErrIntegrity, i, ErrOrphanToolResult)
			}
			if answered[msg.ToolCallID] {
				return fmt.Errorf("%w: tool message %d: %w", ErrIntegrity, i, ErrDuplicateToolResult)
			}
			answered[msg.ToolCallID] = true
		case llm.RoleSystem, llm.RoleUser:
			if msg.Content == nil {
				return fmt.Errorf("%w: %s message %d has null content", ErrIntegrity, msg.Role, i)
			}
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrIntegrity, i, msg.Role)
		}
	}

	for id := range calls {
		if !answered[id] {
			return fmt.Errorf("%w: tool call %q has no result", ErrIntegrity, id)
		}
	}
	return nil
}

// enforceIntegrity drops calls without a later result, results without an
// earlier call, repeated results, and assistant messages left empty.
func enforceIntegrity(messages []llm.Message) []llm.Message {
	callAt := map[string]int{}
	resultAt := map[string]int{}
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				if _, seen := callAt[call.ID]; !seen && call.ID != "" {
					callAt[call.ID] = i
				}
			}
		case llm.RoleTool:
			pos, ok := callAt[msg.ToolCallID]
			if _, seen := resultAt[msg.ToolCallID]; ok && !seen && pos < i {
				resultAt[msg.ToolCallID] = i
			}
		}
	}

	out := make([]llm.Message, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			if !msg.HasToolCalls() {
				if msg.Content != nil {
					out = append(out, msg)
				}
				continue
			}
			kept := make([]llm.ToolCallRef, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if callAt[call.ID] == i {
					if _, ok := resultAt[call.ID]; ok {
						kept = append(kept, call)
					}
				}
			}
			if len(kept) == 0 {
				continue
			}
			msg.ToolCalls = kept
			msg.Content = nil
			out = append(out, msg)
		case llm.RoleTool:
			if pos, ok := resultAt[msg.ToolCallID]; ok && pos == i {
				out = append(out, msg)
			}
		default:
			out = append(out, msg)
		}
	}
	return out
}
