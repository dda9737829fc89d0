package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/coda/pkg/llm"
	"github.com/rs/zerolog"
)

var (
	// ErrOrphanToolResult is returned when a tool result names no pending call.
	ErrOrphanToolResult = errors.New("tool result does not match any tool call")
	// ErrDuplicateToolResult is returned when a call has already been answered.
	ErrDuplicateToolResult = errors.New("tool call already has a result")
	// ErrEmptyAssistant is returned for an assistant message with neither content nor calls.
	ErrEmptyAssistant = errors.New("assistant message needs content or tool calls")
	// ErrInvalidToolCall is returned for a call without id or name, or a reused id.
	ErrInvalidToolCall = errors.New("invalid tool call")
	// ErrInvalidRole is returned when AddMessage is used for a tool message.
	ErrInvalidRole = errors.New("invalid message role")
)

// Metadata describes a conversation session.
type Metadata struct {
	SessionID        string    `json:"sessionId"`
	StartedAt        time.Time `json:"startedAt"`
	LastUpdated      time.Time `json:"lastUpdated"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	WorkingDirectory string    `json:"workingDirectory,omitempty"`
}

// Snapshot is the persisted form of a conversation.
type Snapshot struct {
	Metadata Metadata      `json:"metadata"`
	Messages []llm.Message `json:"messages"`
}

// Stats summarizes the stored log.
type Stats struct {
	Messages        int `json:"messages"`
	ToolMessages    int `json:"toolMessages"`
	PendingCalls    int `json:"pendingCalls"`
	EstimatedTokens int `json:"estimatedTokens"`
}

// Option configures a Store.
type Option func(*Store)

// WithLimits overrides the pruning limits. Zero fields keep their defaults.
func WithLimits(limits Limits) Option {
	return func(s *Store) {
		s.limits = limits.withDefaults()
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is the single writer of a conversation's message log.
type Store struct {
	mu       sync.RWMutex
	messages []llm.Message
	meta     Metadata
	limits   Limits
	logger   zerolog.Logger

	// call id -> tool name, for calls still waiting on a result
	pending  map[string]string
	answered map[string]bool
}

// New creates a store whose log starts with the system prompt.
func New(systemPrompt string, meta Metadata, opts ...Option) *Store {
	now := time.Now()
	if meta.SessionID == "" {
		meta.SessionID = uuid.New().String()
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = now
	}
	meta.LastUpdated = now

	s := &Store{
		meta:     meta,
		limits:   DefaultLimits(),
		logger:   zerolog.Nop(),
		pending:  make(map[string]string),
		answered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.messages = []llm.Message{llm.TextMessage(llm.RoleSystem, systemPrompt)}
	return s
}

// AddMessage appends a system, user or plain assistant text message.
func (s *Store) AddMessage(role llm.Role, content string) error {
	switch role {
	case llm.RoleAssistant:
		return s.AddAssistantMessage(content, nil)
	case llm.RoleSystem, llm.RoleUser:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(llm.TextMessage(role, content))
	return nil
}

// AddAssistantMessage appends a model turn. With calls present the content is
// stored as null; without calls the content must be non-empty.
func (s *Store) AddAssistantMessage(content string, calls []llm.ToolCallRef) error {
	if len(calls) == 0 {
		if content == "" {
			return ErrEmptyAssistant
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.append(llm.TextMessage(llm.RoleAssistant, content))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(calls))
	normalized := make([]llm.ToolCallRef, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" || call.Name == "" {
			return fmt.Errorf("%w: id %q name %q", ErrInvalidToolCall, call.ID, call.Name)
		}
		_, open := s.pending[call.ID]
		if seen[call.ID] || open || s.answered[call.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidToolCall, call.ID)
		}
		seen[call.ID] = true
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage("{}")
		}
		normalized = append(normalized, call)
	}

	for _, call := range normalized {
		s.pending[call.ID] = call.Name
	}
	s.append(llm.Message{
		Role:      llm.RoleAssistant,
		Timestamp: time.Now(),
		ToolCalls: normalized,
	})
	return nil
}

// AddToolResult appends the result for a pending call. An empty toolName is
// filled from the call.
func (s *Store) AddToolResult(callID, toolName, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.pending[callID]
	if !ok {
		if s.answered[callID] {
			return fmt.Errorf("%w: %s", ErrDuplicateToolResult, callID)
		}
		return fmt.Errorf("%w: %s", ErrOrphanToolResult, callID)
	}
	if toolName == "" {
		toolName = name
	}

	delete(s.pending, callID)
	s.answered[callID] = true
	s.append(llm.Message{
		Role:       llm.RoleTool,
		Content:    &content,
		Timestamp:  time.Now(),
		ToolCallID: callID,
		ToolName:   toolName,
	})
	return nil
}

// PendingCalls returns calls that have no result yet, in log order.
func (s *Store) PendingCalls() []llm.ToolCallRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []llm.ToolCallRef
	for _, msg := range s.messages {
		for _, call := range msg.ToolCalls {
			if _, ok := s.pending[call.ID]; ok {
				out = append(out, call)
			}
		}
	}
	return out
}

// Clear resets the log to the system message.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	system := s.messages[0]
	s.messages = []llm.Message{system}
	s.pending = make(map[string]string)
	s.answered = make(map[string]bool)
	s.meta.LastUpdated = time.Now()
}

// Messages returns a copy of the stored log.
func (s *Store) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Metadata returns the session metadata.
func (s *Store) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// SetModel records the provider and model in use.
func (s *Store) SetModel(provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Provider = provider
	s.meta.Model = model
}

// Limits returns the pruning limits.
func (s *Store) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// Snapshot returns a copy suitable for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Metadata: s.meta, Messages: cloneMessages(s.messages)}
}

// Restore replaces the log and metadata with snap after validating it.
func (s *Store) Restore(snap Snapshot) error {
	if len(snap.Messages) == 0 || snap.Messages[0].Role != llm.RoleSystem {
		return fmt.Errorf("%w: log must start with a system message", ErrIntegrity)
	}
	if err := Validate(snap.Messages); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = cloneMessages(snap.Messages)
	s.meta = snap.Metadata
	s.pending = make(map[string]string)
	s.answered = make(map[string]bool)
	for _, msg := range s.messages {
		if msg.Role == llm.RoleTool {
			s.answered[msg.ToolCallID] = true
		}
	}
	return nil
}

// Stats summarizes the stored log.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Messages: len(s.messages), PendingCalls: len(s.pending)}
	for _, msg := range s.messages {
		if msg.Role == llm.RoleTool {
			st.ToolMessages++
		}
	}
	st.EstimatedTokens = EstimateTokens(s.messages)
	return st
}

// append must be called with mu held.
func (s *Store) append(msg llm.Message) {
	s.messages = append(s.messages, msg)
	s.meta.LastUpdated = msg.Timestamp
}

func cloneMessages(in []llm.Message) []llm.Message {
	out := make([]llm.Message, len(in))
	for i, msg := range in {
		out[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg llm.Message) llm.Message {
	if msg.Content != nil {
		content := *msg.Content
		msg.Content = &content
	}
	if msg.ToolCalls != nil {
		calls := make([]llm.ToolCallRef, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		msg.ToolCalls = calls
	}
	return msg
}
