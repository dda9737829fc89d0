package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/coda/internal/observability"
	"github.com/harun/coda/internal/tracing"
	"github.com/harun/coda/pkg/conversation"
	"github.com/harun/coda/pkg/llm"
	"github.com/harun/coda/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName = "coda/agent"

	// DefaultMaxIterations bounds the model turns of one Chat.
	DefaultMaxIterations = 25

	cancelledResult = "Tool call cancelled before execution"
)

var (
	// ErrChatInProgress is reported when Chat is called while another Chat
	// sequence is still being drained, and by SetAdapter during a Chat.
	ErrChatInProgress = errors.New("agent: chat already in progress")
	// ErrNoAdapter is returned when no adapter is configured.
	ErrNoAdapter = errors.New("agent: no adapter configured")
)

// ProviderError is a vendor or transport failure reported by the adapter as
// an error event.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ToolRegistry is the subset of toolexecutor.ToolExecutor the loop needs.
type ToolRegistry interface {
	Execute(ctx context.Context, name string, args map[string]interface{}, opts *toolexecutor.ExecuteOptions) toolexecutor.ToolResult
	Schemas() []llm.ToolSchema
}

// Config tunes a Loop.
type Config struct {
	MaxIterations int
	MaxTokens     int
	Temperature   float64

	// AutoApprove runs unsafe commands without asking.
	AutoApprove bool
	// Confirm asks the operator about unsafe commands.
	Confirm toolexecutor.ConfirmFunc

	ToolTimeout time.Duration
	// WorkingDir overrides the conversation's working directory for tools.
	WorkingDir string

	Logger zerolog.Logger
}

// Loop drives one conversation. It is not safe to share a Store between loops.
type Loop struct {
	mu      sync.RWMutex
	adapter llm.Adapter
	store   *conversation.Store
	tools   ToolRegistry
	cfg     Config
	busy    atomic.Bool
}

// New creates a Loop.
func New(adapter llm.Adapter, store *conversation.Store, tools ToolRegistry, cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if adapter == nil {
		return nil, ErrNoAdapter
	}
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	store.SetModel(adapter.Name(), adapter.Model())
	return &Loop{
		adapter: adapter,
		store:   store,
		tools:   tools,
		cfg:     cfg,
	}, nil
}

// Adapter returns the current adapter.
func (l *Loop) Adapter() llm.Adapter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.adapter
}

// SetAdapter replaces the adapter. Only allowed between Chat sequences.
func (l *Loop) SetAdapter(adapter llm.Adapter) error {
	if adapter == nil {
		return ErrNoAdapter
	}
	if l.busy.Load() {
		return ErrChatInProgress
	}

	l.mu.Lock()
	l.adapter = adapter
	l.mu.Unlock()

	l.store.SetModel(adapter.Name(), adapter.Model())
	return nil
}

// Store returns the conversation the loop appends to.
func (l *Loop) Store() *conversation.Store {
	return l.store
}

// Busy reports whether a Chat sequence is being drained.
func (l *Loop) Busy() bool {
	return l.busy.Load()
}

// Chat appends message and runs model turns until the model stops calling
// tools. The sequence is lazy: nothing happens until it is ranged over, and
// stopping early cancels the in-flight stream and closes out pending calls.
func (l *Loop) Chat(ctx context.Context, message string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !l.busy.CompareAndSwap(false, true) {
			yield(Event{Type: EventError, Err: ErrChatInProgress})
			return
		}
		defer l.busy.Store(false)

		l.chat(ctx, message, yield)
	}
}

func (l *Loop) chat(ctx context.Context, message string, yield func(Event) bool) {
	adapter := l.Adapter()
	meta := l.store.Metadata()

	ctx = tracing.NewTurnContext(ctx, meta.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.chat",
		attribute.String("llm.provider", adapter.Name()),
		attribute.String("llm.model", adapter.Model()),
	)
	defer span.End()

	run := &chatRun{
		loop:    l,
		ctx:     ctx,
		adapter: adapter,
		logger:  tracing.LoggerFromContext(ctx, l.cfg.Logger),
		yield:   yield,
	}
	if l.cfg.WorkingDir != "" {
		run.workingDir = l.cfg.WorkingDir
	} else {
		run.workingDir = meta.WorkingDirectory
	}

	start := time.Now()
	outcome := run.run(message)

	span.SetAttributes(
		attribute.String("agent.outcome", outcome),
		attribute.Int("agent.iterations", run.iterations),
		attribute.Int("llm.prompt_tokens", run.usage.PromptTokens),
		attribute.Int("llm.completion_tokens", run.usage.CompletionTokens),
	)
	if outcome == "error" {
		span.SetStatus(codes.Error, "chat failed")
	}
	observability.RecordAgentTurn(adapter.Name(), outcome, time.Since(start), run.iterations)

	run.logger.Debug().
		Str("outcome", outcome).
		Int("iterations", run.iterations).
		Dur("duration", time.Since(start)).
		Msg("Chat finished")
}

// chatRun is the per-Chat accumulation state. It is discarded when the
// sequence ends.
type chatRun struct {
	loop       *Loop
	ctx        context.Context
	adapter    llm.Adapter
	logger     zerolog.Logger
	yield      func(Event) bool
	workingDir string

	usage      llm.Usage
	iterations int
}

func (r *chatRun) run(message string) string {
	if err := r.loop.store.AddMessage(llm.RoleUser, message); err != nil {
		r.terminal(EventError, fmt.Errorf("store user message: %w", err))
		return "error"
	}

	for r.iterations < r.loop.cfg.MaxIterations {
		if err := r.ctx.Err(); err != nil {
			r.terminal(EventError, err)
			return "error"
		}

		r.iterations++
		calls, stopped, err := r.modelTurn()
		if stopped {
			return "abandoned"
		}
		if err != nil {
			r.logger.Warn().Err(err).Int("iteration", r.iterations).Msg("Model turn failed")
			r.terminal(EventError, err)
			return "error"
		}
		if len(calls) == 0 {
			r.terminal(EventDone, nil)
			return "done"
		}

		stopped, err = r.dispatch(calls)
		if stopped {
			return "abandoned"
		}
		if err != nil {
			r.terminal(EventError, err)
			return "error"
		}
	}

	r.logger.Info().Int("iterations", r.iterations).Msg("Iteration ceiling reached")
	r.terminal(EventMaxIterations, nil)
	return "max_iterations"
}

func (r *chatRun) terminal(t EventType, err error) {
	r.yield(Event{Type: t, Err: err, Usage: r.usage, Iterations: r.iterations})
}

// modelTurn streams one model response. Nothing is stored unless the stream
// finishes cleanly.
func (r *chatRun) modelTurn() (calls []llm.ToolCallRef, stopped bool, err error) {
	ctx, span := tracing.StartSpan(r.ctx, tracerName, "agent.model_turn",
		attribute.Int("agent.iteration", r.iterations),
	)
	defer span.End()

	provider := r.adapter.Name()
	opts := llm.StreamOptions{
		Tools:       r.loop.tools.Schemas(),
		MaxTokens:   r.loop.cfg.MaxTokens,
		Temperature: r.loop.cfg.Temperature,
	}

	start := time.Now()
	var (
		content   strings.Builder
		turnUsage llm.Usage
		turnErr   error
	)
	for ev, streamErr := range r.adapter.Stream(ctx, r.loop.store.View(), opts) {
		if streamErr != nil {
			turnErr = fmt.Errorf("model turn: %w", streamErr)
			break
		}
		if ev.Type == llm.EventError {
			turnErr = &ProviderError{Provider: provider, Message: ev.Message}
			break
		}

		switch ev.Type {
		case llm.EventContent:
			if ev.ContentDelta == "" {
				continue
			}
			content.WriteString(ev.ContentDelta)
			if !r.yield(Event{Type: EventContent, Content: ev.ContentDelta}) {
				observability.RecordProviderStream(provider, time.Since(start), false)
				return nil, true, nil
			}
		case llm.EventToolCalls:
			calls = append(calls, ev.Calls...)
		case llm.EventUsage:
			if ev.Usage != nil {
				turnUsage.Add(*ev.Usage)
			}
		}
	}

	r.usage.Add(turnUsage)
	observability.RecordProviderStream(provider, time.Since(start), turnErr == nil)
	observability.RecordProviderTokens(provider, turnUsage.PromptTokens, turnUsage.CompletionTokens)

	if turnErr != nil {
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, turnErr.Error())
		return nil, false, turnErr
	}

	valid := r.acceptCalls(calls)
	text := content.String()
	switch {
	case len(valid) > 0:
		err = r.loop.store.AddAssistantMessage(text, valid)
	case text != "":
		err = r.loop.store.AddAssistantMessage(text, nil)
	}
	if err != nil {
		return nil, false, fmt.Errorf("store assistant turn: %w", err)
	}

	span.SetAttributes(attribute.Int("agent.tool_calls", len(valid)))
	return valid, false, nil
}

// acceptCalls drops calls without a name and gives id-less calls an id.
func (r *chatRun) acceptCalls(calls []llm.ToolCallRef) []llm.ToolCallRef {
	valid := make([]llm.ToolCallRef, 0, len(calls))
	var ids *llm.ToolCallAccumulator
	for i, call := range calls {
		if strings.TrimSpace(call.Name) == "" {
			r.logger.Warn().Str("tool_call_id", call.ID).Msg("Discarding tool call without a name")
			continue
		}
		if call.ID == "" {
			if ids == nil {
				ids = llm.NewToolCallAccumulator(r.logger)
			}
			call.ID = ids.SyntheticID(i)
		}
		valid = append(valid, call)
	}
	return valid
}

// dispatch runs calls one at a time in order. Calls that never ran because
// the consumer stopped or ctx was cancelled are closed with a cancelled result.
func (r *chatRun) dispatch(calls []llm.ToolCallRef) (stopped bool, err error) {
	for i := range calls {
		call := calls[i]

		if err := r.ctx.Err(); err != nil {
			r.abandon(calls[i:])
			return false, err
		}
		if !r.yield(Event{Type: EventToolCall, Call: &call}) {
			r.abandon(calls[i:])
			return true, nil
		}

		result := r.execute(call)
		r.storeResult(call, result)

		if !r.yield(Event{Type: EventToolResult, Call: &call, Result: &result}) {
			r.abandon(calls[i+1:])
			return true, nil
		}
	}
	return false, nil
}

func (r *chatRun) execute(call llm.ToolCallRef) toolexecutor.ToolResult {
	if call.ArgumentsError != "" {
		return toolexecutor.Failure("Invalid tool arguments: " + call.ArgumentsError)
	}
	args, err := call.DecodeArguments()
	if err != nil {
		return toolexecutor.Failure(fmt.Sprintf("Invalid tool arguments: %v", err))
	}

	ctx := tracing.WithToolCallID(r.ctx, call.ID)
	return r.loop.tools.Execute(ctx, call.Name, args, &toolexecutor.ExecuteOptions{
		Confirm:     r.loop.cfg.Confirm,
		AutoApprove: r.loop.cfg.AutoApprove,
		WorkingDir:  r.workingDir,
		Timeout:     r.loop.cfg.ToolTimeout,
		SessionID:   tracing.GetSessionID(r.ctx),
		ToolCallID:  call.ID,
	})
}

func (r *chatRun) storeResult(call llm.ToolCallRef, result toolexecutor.ToolResult) {
	if err := r.loop.store.AddToolResult(call.ID, call.Name, result.String()); err != nil {
		r.logger.Error().Err(err).Str("tool_call_id", call.ID).Msg("Failed to store tool result")
	}
}

func (r *chatRun) abandon(calls []llm.ToolCallRef) {
	for _, call := range calls {
		r.storeResult(call, toolexecutor.Failure(cancelledResult))
	}
	if len(calls) > 0 {
		r.logger.Debug().Int("calls", len(calls)).Msg("Closed abandoned tool calls")
	}
}
