package conversation

import (
	"encoding/json"

	"github.com/harun/coda/pkg/llm"
)

const (
	// CharsPerToken is the fixed ratio used to estimate tokens from
	// serialized message length.
	CharsPerToken = 4

	DefaultTokenBudget      = 100000
	DefaultMaxMessages      = 200
	DefaultMaxToolMessages  = 20
	DefaultKeepToolTurns    = 10
	DefaultToolContentLimit = 2000
	DefaultTailMessages     = 10

	// TruncationMarker is appended to tool output cut by the view.
	TruncationMarker = "\n... [output truncated]"
)

// Limits bounds the budgeted view.
type Limits struct {
	TokenBudget      int `json:"token_budget" mapstructure:"token_budget"`
	MaxMessages      int `json:"max_messages" mapstructure:"max_messages"`
	MaxToolMessages  int `json:"max_tool_messages" mapstructure:"max_tool_messages"`
	KeepToolTurns    int `json:"keep_tool_turns" mapstructure:"keep_tool_turns"`
	ToolContentLimit int `json:"tool_content_limit" mapstructure:"tool_content_limit"`
	TailMessages     int `json:"tail_messages" mapstructure:"tail_messages"`
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		TokenBudget:      DefaultTokenBudget,
		MaxMessages:      DefaultMaxMessages,
		MaxToolMessages:  DefaultMaxToolMessages,
		KeepToolTurns:    DefaultKeepToolTurns,
		ToolContentLimit: DefaultToolContentLimit,
		TailMessages:     DefaultTailMessages,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.TokenBudget <= 0 {
		l.TokenBudget = d.TokenBudget
	}
	if l.MaxMessages <= 0 {
		l.MaxMessages = d.MaxMessages
	}
	if l.MaxToolMessages <= 0 {
		l.MaxToolMessages = d.MaxToolMessages
	}
	if l.KeepToolTurns <= 0 {
		l.KeepToolTurns = d.KeepToolTurns
	}
	if l.ToolContentLimit <= 0 {
		l.ToolContentLimit = d.ToolContentLimit
	}
	if l.TailMessages <= 0 {
		l.TailMessages = d.TailMessages
	}
	return l
}

// EstimateMessageTokens returns ceil(len(json)/CharsPerToken) for msg.
func EstimateMessageTokens(msg llm.Message) int {
	raw, err := json.Marshal(msg)
	if err != nil {
		return len(msg.Text())/CharsPerToken + 1
	}
	return (len(raw) + CharsPerToken - 1) / CharsPerToken
}

// EstimateTokens sums the estimate over messages.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}
