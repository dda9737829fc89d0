package llm

const (
	openrouterBaseURL      = "https://openrouter.ai/api/v1/"
	openrouterDefaultModel = "anthropic/claude-sonnet-4.5"
)

// NewOpenRouterAdapter creates an adapter for OpenRouter, which speaks the
// OpenAI Chat Completions dialect.
func NewOpenRouterAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openrouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openrouterDefaultModel
	}
	return newChatCompletionsAdapter("openrouter", cfg)
}
