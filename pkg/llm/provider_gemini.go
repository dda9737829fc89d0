package llm

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/"
	geminiDefaultModel = "gemini-2.5-flash"
)

// schema keywords the Gemini function declaration dialect rejects
var geminiUnsupportedSchemaKeys = []string{"additionalProperties", "$schema", "default"}

// GeminiAdapter streams turns from the Gemini generateContent REST API.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
	guard   inflight
}

// NewGeminiAdapter creates a Gemini adapter
func NewGeminiAdapter(cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	return &GeminiAdapter{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.httpClient(),
		logger:  cfg.Logger.With().Str("provider", "gemini").Logger(),
	}, nil
}

// Name returns the provider name
func (a *GeminiAdapter) Name() string { return "gemini" }

// Model returns the bound model
func (a *GeminiAdapter) Model() string { return a.model }

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []ToolSchema `json:"functionDeclarations"`
}

// Stream runs one streamGenerateContent call over SSE.
func (a *GeminiAdapter) Stream(ctx context.Context, messages []Message, opts StreamOptions) iter.Seq2[StreamEvent, error] {
	return guarded(&a.guard, func(yield func(StreamEvent, error) bool) {
		req := geminiRequestFor(messages, opts)
		endpoint := joinURL(a.baseURL, "v1beta/models/"+url.PathEscape(a.model)+":streamGenerateContent") + "?alt=sse"

		resp, err := postJSON(ctx, a.client, endpoint, map[string]string{"x-goog-api-key": a.apiKey}, req)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Gemini request failed")
			yield(ErrorEvent(describe("gemini", err)), nil)
			return
		}
		defer resp.Body.Close()

		acc := NewToolCallAccumulator(a.logger)
		var calls []ToolCallRef
		var usage *Usage
		callIndex := 0

		for ev, err := range readSSE(ctx, resp.Body) {
			if err != nil {
				yield(ErrorEvent(describe("gemini", err)), nil)
				return
			}
			if !gjson.Valid(ev.Data) {
				yield(StreamEvent{}, malformed("gemini", errInvalidChunk(ev.Data)))
				return
			}
			chunk := gjson.Parse(ev.Data)

			if msg := chunk.Get("error.message"); msg.Exists() {
				yield(ErrorEvent("gemini: "+msg.String()), nil)
				return
			}

			for _, part := range chunk.Get("candidates.0.content.parts").Array() {
				if text := part.Get("text"); text.Exists() && text.String() != "" && !part.Get("thought").Bool() {
					if !yield(ContentEvent(text.String()), nil) {
						return
					}
				}
				if fc := part.Get("functionCall"); fc.Exists() {
					// A functionCall part is a complete block.
					acc.Begin(callIndex, fc.Get("id").String(), fc.Get("name").String())
					if args := fc.Get("args"); args.Exists() {
						acc.AppendArguments(callIndex, args.Raw)
					}
					if call, ok := acc.Close(callIndex); ok {
						calls = append(calls, call)
					}
					callIndex++
				}
			}

			if meta := chunk.Get("usageMetadata"); meta.Exists() {
				usage = &Usage{
					PromptTokens:     int(meta.Get("promptTokenCount").Int()),
					CompletionTokens: int(meta.Get("candidatesTokenCount").Int()),
				}
			}
		}

		if len(calls) > 0 {
			if !yield(ToolCallsEvent(calls), nil) {
				return
			}
		}
		if usage != nil {
			if !yield(StreamEvent{Type: EventUsage, Usage: usage}, nil) {
				return
			}
		}
		yield(DoneEvent(), nil)
	})
}

func geminiRequestFor(messages []Message, opts StreamOptions) geminiRequest {
	req := geminiRequest{}

	// Gemini needs the function name on responses; recover it from the call.
	callNames := map[string]string{}
	var system []string

	push := func(role string, parts ...geminiPart) {
		if len(parts) == 0 {
			return
		}
		if n := len(req.Contents); n > 0 && req.Contents[n-1].Role == role {
			req.Contents[n-1].Parts = append(req.Contents[n-1].Parts, parts...)
			return
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := strings.TrimSpace(msg.Text()); text != "" {
				system = append(system, text)
			}
		case RoleUser:
			if text := msg.Text(); text != "" {
				push("user", geminiPart{Text: text})
			}
		case RoleAssistant:
			parts := []geminiPart{}
			if text := msg.Text(); text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: call.Name,
					Args: argumentsOrEmpty(call.Arguments),
				}})
			}
			push("model", parts...)
		case RoleTool:
			name := msg.ToolName
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			push("user", geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     name,
				Response: functionResponsePayload(msg.Text()),
			}})
		}
	}

	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	if len(opts.Tools) > 0 {
		decls := make([]ToolSchema, 0, len(opts.Tools))
		for _, tool := range opts.Tools {
			decls = append(decls, ToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  sanitizeGeminiSchema(tool.Parameters),
			})
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	gen := map[string]interface{}{}
	if opts.MaxTokens > 0 {
		gen["maxOutputTokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		gen["temperature"] = opts.Temperature
	}
	if len(gen) > 0 {
		req.GenerationConfig = gen
	}

	return req
}

// functionResponsePayload returns content as a JSON object, wrapping
// non-object results since Gemini only accepts objects there.
func functionResponsePayload(content string) json.RawMessage {
	if gjson.Valid(content) && gjson.Parse(content).IsObject() {
		return json.RawMessage(content)
	}
	wrapped, _ := json.Marshal(map[string]string{"content": content})
	return wrapped
}

// sanitizeGeminiSchema returns a copy of schema without unsupported keywords.
func sanitizeGeminiSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if isUnsupportedGeminiKey(k) {
			continue
		}
		// Property names are user data, not keywords.
		if props, ok := v.(map[string]interface{}); ok && k == "properties" {
			cleaned := make(map[string]interface{}, len(props))
			for name, prop := range props {
				cleaned[name] = sanitizeSchemaValue(prop)
			}
			out[k] = cleaned
			continue
		}
		out[k] = sanitizeSchemaValue(v)
	}
	return out
}

func sanitizeSchemaValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return sanitizeGeminiSchema(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeSchemaValue(item)
		}
		return out
	default:
		return v
	}
}

func isUnsupportedGeminiKey(key string) bool {
	for _, k := range geminiUnsupportedSchemaKeys {
		if k == key {
			return true
		}
	}
	return false
}
