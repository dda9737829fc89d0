package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Adapter streams one model turn from a specific vendor.
type Adapter interface {
	// Name returns the vendor key the adapter was registered under.
	Name() string

	// Model returns the bound model identifier.
	Model() string

	// Stream sends messages and yields normalized events until done or error.
	// A non-nil error is a hard failure; vendor errors arrive as EventError.
	Stream(ctx context.Context, messages []Message, opts StreamOptions) iter.Seq2[StreamEvent, error]
}

// Config holds what an adapter constructor needs.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// Constructor builds an adapter from config.
type Constructor func(cfg Config) (Adapter, error)

// Registry maps vendor names to adapter constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// New constructs an adapter for the named vendor.
func (r *Registry) New(name string, cfg Config) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return ctor(cfg)
}

// Names lists registered vendors in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a vendor is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns a registry with every built-in vendor.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r := NewRegistry()
		r.Register("anthropic", constructor(NewAnthropicAdapter))
		r.Register("openai", constructor(NewOpenAIAdapter))
		r.Register("openrouter", constructor(NewOpenRouterAdapter))
		r.Register("gemini", constructor(NewGeminiAdapter))
		r.Register("ollama", constructor(NewOllamaAdapter))
		defaultRegistry = r
	})
	return defaultRegistry
}

// constructor lifts a concrete constructor so a failed build yields a nil interface.
func constructor[T Adapter](ctor func(Config) (T, error)) Constructor {
	return func(cfg Config) (Adapter, error) {
		adapter, err := ctor(cfg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	}
}

// inflight enforces one active stream per adapter instance.
type inflight struct {
	busy atomic.Bool
}

func (f *inflight) acquire() bool {
	return f.busy.CompareAndSwap(false, true)
}

func (f *inflight) release() {
	f.busy.Store(false)
}

// guarded wraps a stream body so a concurrent call yields ErrStreamInFlight.
func guarded(f *inflight, body func(yield func(StreamEvent, error) bool)) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		if !f.acquire() {
			yield(StreamEvent{}, ErrStreamInFlight)
			return
		}
		defer f.release()
		body(yield)
	}
}
