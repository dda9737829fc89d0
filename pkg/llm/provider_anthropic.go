package llm

import (
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-5"
	anthropicDefaultMaxTokens = 8192
)

// AnthropicAdapter streams turns from the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
	guard  inflight
}

// NewAnthropicAdapter creates an Anthropic adapter
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(cfg.httpClient()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: cfg.Logger.With().Str("provider", "anthropic").Logger(),
	}, nil
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Model returns the bound model
func (a *AnthropicAdapter) Model() string { return a.model }

// Stream runs one streamed Messages call.
func (a *AnthropicAdapter) Stream(ctx context.Context, messages []Message, opts StreamOptions) iter.Seq2[StreamEvent, error] {
	return guarded(&a.guard, func(yield func(StreamEvent, error) bool) {
		system, params := anthropicMessages(messages)

		req := anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			Messages:  params,
			MaxTokens: anthropicDefaultMaxTokens,
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = int64(opts.MaxTokens)
		}
		if system != "" {
			req.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if opts.Temperature > 0 {
			req.Temperature = anthropic.Float(opts.Temperature)
		}
		if len(opts.Tools) > 0 {
			req.Tools = anthropicTools(opts.Tools)
		}

		stream := a.client.Messages.NewStreaming(ctx, req)
		defer stream.Close()

		acc := NewToolCallAccumulator(a.logger)
		message := anthropic.Message{}
		var calls []ToolCallRef

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				yield(StreamEvent{}, malformed("anthropic", err))
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if ev.ContentBlock.Type == "tool_use" {
					acc.Begin(int(ev.Index), ev.ContentBlock.ID, ev.ContentBlock.Name)
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !yield(ContentEvent(delta.Text), nil) {
						return
					}
				case anthropic.InputJSONDelta:
					acc.AppendArguments(int(ev.Index), delta.PartialJSON)
				}
			case anthropic.ContentBlockStopEvent:
				idx := int(ev.Index)
				// Input may arrive whole in the start block with no deltas.
				if !acc.HasArguments(idx) && idx >= 0 && idx < len(message.Content) {
					if tu, ok := message.Content[idx].AsAny().(anthropic.ToolUseBlock); ok && len(tu.Input) > 0 {
						acc.AppendArguments(idx, string(tu.Input))
					}
				}
				if call, ok := acc.Close(idx); ok {
					calls = append(calls, call)
				}
			}
		}

		if err := stream.Err(); err != nil {
			if IsHardFailure(err) {
				yield(StreamEvent{}, malformed("anthropic", err))
				return
			}
			a.logger.Warn().Err(err).Msg("Anthropic stream failed")
			yield(ErrorEvent(describe("anthropic", err)), nil)
			return
		}

		calls = append(calls, acc.CloseAll()...)
		if len(calls) > 0 {
			if !yield(ToolCallsEvent(calls), nil) {
				return
			}
		}
		if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
			if !yield(UsageEvent(int(message.Usage.InputTokens), int(message.Usage.OutputTokens)), nil) {
				return
			}
		}
		yield(DoneEvent(), nil)
	})
}

// anthropicMessages splits out the system prompt and converts the rest.
// Consecutive messages that map to the same Anthropic role are merged, so a
// run of tool results becomes one user message of tool_result blocks.
func anthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))

	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := strings.TrimSpace(msg.Text()); text != "" {
				system = append(system, text)
			}
		case RoleUser:
			if text := msg.Text(); text != "" {
				push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(text))
			}
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, argumentsOrEmpty(call.Arguments), call.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		case RoleTool:
			content := msg.Text()
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, content, isFailedResult(content)))
		}
	}

	return strings.Join(system, "\n\n"), out
}

func anthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters["properties"],
				Required:   requiredFields(tool.Parameters),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// requiredFields reads a JSON-schema "required" list in either of its Go shapes.
func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// isFailedResult reports whether a serialized tool result says success:false.
func isFailedResult(content string) bool {
	success := gjson.Get(content, "success")
	return success.Exists() && success.Type == gjson.False
}

func argumentsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("{}")
	}
	return raw
}
