package conversation

import (
	"github.com/harun/coda/internal/observability"
	"github.com/harun/coda/pkg/llm"
)

// Prune stages reported to metrics and in ViewReport.
const (
	StageToolTurns = "tool_turns"
	StageTruncate  = "truncate"
	StageTail      = "tail"
)

// ViewReport describes how a view was built.
type ViewReport struct {
	Stages          []string
	Messages        int
	EstimatedTokens int
}

// View returns the budgeted, integrity-preserving message list for the next
// request. The stored log is left unchanged.
func (s *Store) View() []llm.Message {
	view, _ := s.ViewWithReport()
	return view
}

// ViewWithReport is View plus a description of the pruning applied.
func (s *Store) ViewWithReport() ([]llm.Message, ViewReport) {
	s.mu.RLock()
	messages := cloneMessages(s.messages)
	limits := s.limits
	logger := s.logger
	s.mu.RUnlock()

	view, report := BuildView(messages, limits)
	if len(report.Stages) > 0 {
		logger.Debug().
			Strs("stages", report.Stages).
			Int("stored", len(messages)).
			Int("sent", report.Messages).
			Int("estimated_tokens", report.EstimatedTokens).
			Msg("Pruned conversation view")
	}
	for _, stage := range report.Stages {
		observability.RecordContextPrune(stage)
	}
	observability.SetContextViewSize(report.Messages)
	return view, report
}

// BuildView applies the pruning stages to messages, which it may modify.
func BuildView(messages []llm.Message, limits Limits) ([]llm.Message, ViewReport) {
	limits = limits.withDefaults()
	report := ViewReport{}

	view := messages
	if exceedsLimits(view, limits) {
		if countRole(view, llm.RoleTool) > limits.MaxToolMessages {
			view = keepRecentToolTurns(view, limits.KeepToolTurns)
			report.Stages = append(report.Stages, StageToolTurns)
		}

		var truncated bool
		view, truncated = truncateToolContent(view, limits.ToolContentLimit)
		if truncated {
			report.Stages = append(report.Stages, StageTruncate)
		}

		if EstimateTokens(view) > limits.TokenBudget || len(view) > limits.MaxMessages {
			view = tailWindow(view, limits.TailMessages)
			report.Stages = append(report.Stages, StageTail)
		}
	}

	view = enforceIntegrity(view)
	report.Messages = len(view)
	report.EstimatedTokens = EstimateTokens(view)
	return view, report
}

func exceedsLimits(messages []llm.Message, limits Limits) bool {
	return len(messages) > limits.MaxMessages ||
		countRole(messages, llm.RoleTool) > limits.MaxToolMessages ||
		EstimateTokens(messages) > limits.TokenBudget
}

func countRole(messages []llm.Message, role llm.Role) int {
	n := 0
	for _, msg := range messages {
		if msg.Role == role {
			n++
		}
	}
	return n
}

// keepRecentToolTurns keeps the last keep assistant-with-calls turns and their
// results. Earlier turns are dropped together with their results; system,
// user and plain assistant messages always stay.
func keepRecentToolTurns(messages []llm.Message, keep int) []llm.Message {
	var turns []int
	for i, msg := range messages {
		if msg.Role == llm.RoleAssistant && msg.HasToolCalls() {
			turns = append(turns, i)
		}
	}
	if len(turns) <= keep {
		return messages
	}

	dropped := map[string]bool{}
	droppedTurn := map[int]bool{}
	for _, idx := range turns[:len(turns)-keep] {
		droppedTurn[idx] = true
		for _, call := range messages[idx].ToolCalls {
			dropped[call.ID] = true
		}
	}

	out := make([]llm.Message, 0, len(messages))
	for i, msg := range messages {
		if droppedTurn[i] {
			continue
		}
		if msg.Role == llm.RoleTool && dropped[msg.ToolCallID] {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// truncateToolContent cuts tool output longer than limit characters.
func truncateToolContent(messages []llm.Message, limit int) ([]llm.Message, bool) {
	truncated := false
	for i, msg := range messages {
		if msg.Role != llm.RoleTool || msg.Content == nil {
			continue
		}
		runes := []rune(*msg.Content)
		if len(runes) <= limit {
			continue
		}
		cut := string(runes[:limit]) + TruncationMarker
		messages[i].Content = &cut
		truncated = true
	}
	return messages, truncated
}

// tailWindow keeps the leading system message and the last n messages. The
// window start moves backward while it would separate a result from its call.
func tailWindow(messages []llm.Message, n int) []llm.Message {
	first := 0
	var head []llm.Message
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		head = messages[:1]
		first = 1
	}

	start := len(messages) - n
	if start <= first {
		return messages
	}

	callAt := map[string]int{}
	for i, msg := range messages {
		for _, call := range msg.ToolCalls {
			callAt[call.ID] = i
		}
	}

	for {
		earliest := start
		for _, msg := range messages[start:] {
			if msg.Role != llm.RoleTool {
				continue
			}
			if pos, ok := callAt[msg.ToolCallID]; ok && pos < earliest && pos >= first {
				earliest = pos
			}
		}
		if earliest == start {
			break
		}
		start = earliest
	}

	out := make([]llm.Message, 0, len(head)+len(messages)-start)
	out = append(out, head...)
	return append(out, messages[start:]...)
}
