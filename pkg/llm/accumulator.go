package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ToolCallAccumulator reassembles streamed tool-call fragments keyed by the
// vendor's call index. A call becomes a ToolCallRef only when it is closed.
type ToolCallAccumulator struct {
	builders map[int]*callBuilder
	turnID   string
	logger   zerolog.Logger
}

type callBuilder struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an accumulator for one model turn.
func NewToolCallAccumulator(logger zerolog.Logger) *ToolCallAccumulator {
	return &ToolCallAccumulator{
		builders: make(map[int]*callBuilder),
		logger:   logger,
	}
}

// Begin starts or updates the call at index. Empty id or name leaves any
// previously seen value in place.
func (a *ToolCallAccumulator) Begin(index int, id, name string) {
	b := a.builder(index)
	if id != "" {
		b.id = id
	}
	if name != "" {
		b.name = name
	}
}

// AppendArguments adds a raw argument fragment to the call at index.
func (a *ToolCallAccumulator) AppendArguments(index int, fragment string) {
	if fragment == "" {
		return
	}
	a.builder(index).args.WriteString(fragment)
}

// HasArguments reports whether any argument fragment arrived for index.
func (a *ToolCallAccumulator) HasArguments(index int) bool {
	b, ok := a.builders[index]
	return ok && b.args.Len() > 0
}

// Pending reports whether any call is open.
func (a *ToolCallAccumulator) Pending() bool {
	return len(a.builders) > 0
}

// Close flushes the call at index. ok is false when no call was open there.
func (a *ToolCallAccumulator) Close(index int) (ToolCallRef, bool) {
	b, ok := a.builders[index]
	if !ok {
		return ToolCallRef{}, false
	}
	delete(a.builders, index)
	return a.finish(index, b), true
}

// CloseAll flushes every open call in index order.
func (a *ToolCallAccumulator) CloseAll() []ToolCallRef {
	if len(a.builders) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.builders))
	for idx := range a.builders {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]ToolCallRef, 0, len(indexes))
	for _, idx := range indexes {
		call, _ := a.Close(idx)
		calls = append(calls, call)
	}
	return calls
}

func (a *ToolCallAccumulator) builder(index int) *callBuilder {
	b, ok := a.builders[index]
	if !ok {
		b = &callBuilder{}
		a.builders[index] = b
	}
	return b
}

func (a *ToolCallAccumulator) finish(index int, b *callBuilder) ToolCallRef {
	id := b.id
	if id == "" {
		id = a.SyntheticID(index)
	}

	call := ToolCallRef{ID: id, Name: b.name, Arguments: json.RawMessage("{}")}
	raw := strings.TrimSpace(b.args.String())
	switch {
	case raw == "":
	case json.Valid([]byte(raw)):
		call.Arguments = json.RawMessage(raw)
	default:
		call.ArgumentsError = ErrTruncatedArguments
		a.logger.Warn().
			Str("tool_call_id", id).
			Str("tool", b.name).
			Int("bytes", len(raw)).
			Msg("Tool call arguments are not valid JSON")
	}
	return call
}

// SyntheticID returns a call id unique within this turn, for vendors whose
// wire format carries none.
func (a *ToolCallAccumulator) SyntheticID(index int) string {
	if a.turnID == "" {
		id, err := gonanoid.Generate(idAlphabet, 12)
		if err != nil {
			id = gonanoid.Must(8)
		}
		a.turnID = id
	}
	return fmt.Sprintf("call_%s_%d", a.turnID, index)
}
