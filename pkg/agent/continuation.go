package agent

import (
	"context"
	"iter"
	"regexp"
	"strings"
)

// DefaultContinuePrompt is sent when a reply announces more work but stops.
const DefaultContinuePrompt = "continue"

var defaultContinuePattern = regexp.MustCompile(
	`(?i)\b(let me|i'll|i will|now i'll|next,? i'll)\s+(continue|proceed|keep going|move on)\b[^.!?]*[.:…]*\s*$`,
)

// ContinuePolicy wraps a Loop and re-prompts with "continue" when a finished
// reply ends by announcing further work ("Let me continue with the tests...").
// It is a heuristic and never changes the Loop's own guarantees.
type ContinuePolicy struct {
	Loop         *Loop
	MaxContinues int
	Prompt       string
	Pattern      *regexp.Regexp
}

// NewContinuePolicy creates a policy with the default phrasing detector.
func NewContinuePolicy(loop *Loop, maxContinues int) *ContinuePolicy {
	return &ContinuePolicy{
		Loop:         loop,
		MaxContinues: maxContinues,
		Prompt:       DefaultContinuePrompt,
		Pattern:      defaultContinuePattern,
	}
}

// ShouldContinue reports whether reply ends with a "let me continue" phrase.
func (p *ContinuePolicy) ShouldContinue(reply string) bool {
	pattern := p.Pattern
	if pattern == nil {
		pattern = defaultContinuePattern
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return false
	}
	if len(reply) > 400 {
		reply = reply[len(reply)-400:]
	}
	return pattern.MatchString(reply)
}

// Chat forwards the Loop's events. A done event whose final reply matches
// the pattern is swallowed and the Loop is re-prompted, at most MaxContinues
// times. The last sequence's terminal event is always forwarded.
func (p *ContinuePolicy) Chat(ctx context.Context, message string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		prompt := message
		for attempt := 0; ; attempt++ {
			var reply strings.Builder
			var last Event

			for ev := range p.Loop.Chat(ctx, prompt) {
				switch ev.Type {
				case EventContent:
					reply.WriteString(ev.Content)
				case EventToolCall:
					reply.Reset()
				}
				if ev.Type == EventDone {
					last = ev
					break
				}
				if !yield(ev) {
					return
				}
			}

			if last.Type != EventDone {
				return
			}
			if attempt >= p.MaxContinues || !p.ShouldContinue(reply.String()) {
				yield(last)
				return
			}

			prompt = p.Prompt
			if prompt == "" {
				prompt = DefaultContinuePrompt
			}
			p.Loop.cfg.Logger.Debug().Int("attempt", attempt+1).Msg("Reply announced more work, continuing")
		}
	}
}
