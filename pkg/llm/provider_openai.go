package llm

import (
	"context"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIAdapter streams turns from an OpenAI-compatible Chat Completions API.
type OpenAIAdapter struct {
	name   string
	client openai.Client
	model  string
	logger zerolog.Logger
	guard  inflight
}

// NewOpenAIAdapter creates an OpenAI adapter
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	return newChatCompletionsAdapter("openai", cfg)
}

func newChatCompletionsAdapter(name string, cfg Config) (*OpenAIAdapter, error) {
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

	return &OpenAIAdapter{
		name:   name,
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger.With().Str("provider", name).Logger(),
	}, nil
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string { return a.name }

// Model returns the bound model
func (a *OpenAIAdapter) Model() string { return a.model }

// Stream runs one streamed chat completion.
func (a *OpenAIAdapter) Stream(ctx context.Context, messages []Message, opts StreamOptions) iter.Seq2[StreamEvent, error] {
	return guarded(&a.guard, func(yield func(StreamEvent, error) bool) {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(a.model),
			Messages: openaiMessages(messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if opts.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(opts.MaxTokens))
		}
		if opts.Temperature > 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if len(opts.Tools) > 0 {
			params.Tools = openaiTools(opts.Tools)
		}

		stream := a.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := NewToolCallAccumulator(a.logger)
		var calls []ToolCallRef
		var usage *Usage

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = &Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
				}
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !yield(ContentEvent(choice.Delta.Content), nil) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc.Begin(int(tc.Index), tc.ID, tc.Function.Name)
					acc.AppendArguments(int(tc.Index), tc.Function.Arguments)
				}
				// finish_reason closes every call block of the choice.
				if choice.FinishReason != "" {
					calls = append(calls, acc.CloseAll()...)
				}
			}
		}

		if err := stream.Err(); err != nil {
			if IsHardFailure(err) {
				yield(StreamEvent{}, malformed(a.name, err))
				return
			}
			a.logger.Warn().Err(err).Msg("Chat completion stream failed")
			yield(ErrorEvent(describe(a.name, err)), nil)
			return
		}

		calls = append(calls, acc.CloseAll()...)
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

func openaiMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))
		case RoleAssistant:
			if !msg.HasToolCalls() {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != nil {
				assistant.Content.OfString = openai.String(*msg.Content)
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(argumentsOrEmpty(call.Arguments)),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Text(), msg.ToolCallID))
		}
	}
	return out
}

func openaiTools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		fn := openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
		}
		if len(tool.Parameters) > 0 {
			fn.Parameters = openai.FunctionParameters(tool.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
