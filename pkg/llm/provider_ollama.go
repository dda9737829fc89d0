package llm

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	ollamaBaseURL      = "http://localhost:11434/"
	ollamaDefaultModel = "qwen2.5-coder"
)

// OllamaAdapter streams turns from a local Ollama server.
type OllamaAdapter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
	guard   inflight
}

// NewOllamaAdapter creates an Ollama adapter. The API key is optional and
// only sent when set, for servers behind an authenticating proxy.
func NewOllamaAdapter(cfg Config) (*OllamaAdapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	return &OllamaAdapter{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.httpClient(),
		logger:  cfg.Logger.With().Str("provider", "ollama").Logger(),
	}, nil
}

// Name returns the provider name
func (a *OllamaAdapter) Name() string { return "ollama" }

// Model returns the bound model
func (a *OllamaAdapter) Model() string { return a.model }

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// Stream runs one /api/chat call and decodes its NDJSON stream.
func (a *OllamaAdapter) Stream(ctx context.Context, messages []Message, opts StreamOptions) iter.Seq2[StreamEvent, error] {
	return guarded(&a.guard, func(yield func(StreamEvent, error) bool) {
		headers := map[string]string{}
		if a.apiKey != "" {
			headers["Authorization"] = "Bearer " + a.apiKey
		}

		resp, err := postJSON(ctx, a.client, joinURL(a.baseURL, "api/chat"), headers, ollamaRequestFor(a.model, messages, opts))
		if err != nil {
			a.logger.Warn().Err(err).Msg("Ollama request failed")
			yield(ErrorEvent(describe("ollama", err)), nil)
			return
		}
		defer resp.Body.Close()

		acc := NewToolCallAccumulator(a.logger)
		var calls []ToolCallRef
		var usage *Usage
		callIndex := 0

		for line, err := range readNDJSON(ctx, resp.Body) {
			if err != nil {
				yield(ErrorEvent(describe("ollama", err)), nil)
				return
			}
			if !gjson.Valid(line) {
				yield(StreamEvent{}, malformed("ollama", errInvalidChunk(line)))
				return
			}
			chunk := gjson.Parse(line)

			if msg := chunk.Get("error"); msg.Exists() {
				yield(ErrorEvent("ollama: "+msg.String()), nil)
				return
			}

			if text := chunk.Get("message.content").String(); text != "" {
				if !yield(ContentEvent(text), nil) {
					return
				}
			}
			for _, tc := range chunk.Get("message.tool_calls").Array() {
				acc.Begin(callIndex, "", tc.Get("function.name").String())
				if args := tc.Get("function.arguments"); args.Exists() {
					// Some models send arguments as a JSON-encoded string.
					if args.Type == gjson.String {
						acc.AppendArguments(callIndex, args.String())
					} else {
						acc.AppendArguments(callIndex, args.Raw)
					}
				}
				if call, ok := acc.Close(callIndex); ok {
					calls = append(calls, call)
				}
				callIndex++
			}

			if chunk.Get("done").Bool() {
				usage = &Usage{
					PromptTokens:     int(chunk.Get("prompt_eval_count").Int()),
					CompletionTokens: int(chunk.Get("eval_count").Int()),
				}
				break
			}
		}

		if len(calls) > 0 {
			if !yield(ToolCallsEvent(calls), nil) {
				return
			}
		}
		if usage != nil && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
			if !yield(StreamEvent{Type: EventUsage, Usage: usage}, nil) {
				return
			}
		}
		yield(DoneEvent(), nil)
	})
}

func ollamaRequestFor(model string, messages []Message, opts StreamOptions) ollamaRequest {
	req := ollamaRequest{Model: model, Stream: true}

	callNames := map[string]string{}
	for _, msg := range messages {
		om := ollamaMessage{Role: string(msg.Role), Content: msg.Text()}
		for _, call := range msg.ToolCalls {
			callNames[call.ID] = call.Name
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{Function: ollamaFunction{
				Name:      call.Name,
				Arguments: argumentsOrEmpty(call.Arguments),
			}})
		}
		if msg.Role == RoleTool {
			om.ToolName = msg.ToolName
			if om.ToolName == "" {
				om.ToolName = callNames[msg.ToolCallID]
			}
		}
		req.Messages = append(req.Messages, om)
	}

	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, ollamaTool{Type: "function", Function: tool})
	}

	options := map[string]interface{}{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if len(options) > 0 {
		req.Options = options
	}
	return req
}
