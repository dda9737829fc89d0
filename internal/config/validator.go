package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/harun/coda/pkg/llm"
)

// Validator validates configuration values
type Validator struct {
	providers []string
}

// NewValidator creates a validator that accepts the built-in providers
func NewValidator() *Validator {
	return &Validator{providers: llm.DefaultRegistry().Names()}
}

// ValidateProvider checks that name is a known provider
func (v *Validator) ValidateProvider(name string) error {
	if !slices.Contains(v.providers, name) {
		return fmt.Errorf("unknown provider: %s (must be one of: %s)", name, strings.Join(v.providers, ", "))
	}
	return nil
}

// ValidateAPIKey checks a key against the vendor's known prefix
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

func positive(name string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, value)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(v.ValidateProvider(cfg.Provider))
	for name, p := range cfg.Providers {
		if err := v.ValidateProvider(name); err != nil {
			add(fmt.Errorf("providers.%s: %w", name, err))
			continue
		}
		if p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, name); err != nil {
				add(fmt.Errorf("providers.%s: %w", name, err))
			}
		}
	}

	add(positive("agent.max_iterations", cfg.Agent.MaxIterations))
	add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	if cfg.Agent.ToolTimeout < 0 {
		add(fmt.Errorf("agent.tool_timeout must be >= 0"))
	}
	if cfg.Agent.MaxContinues < 0 {
		add(fmt.Errorf("agent.max_continues must be >= 0"))
	}

	add(positive("context.token_budget", cfg.Context.TokenBudget))
	add(positive("context.max_messages", cfg.Context.MaxMessages))
	add(positive("context.max_tool_messages", cfg.Context.MaxToolMessages))
	add(positive("context.keep_tool_turns", cfg.Context.KeepToolTurns))
	add(positive("context.tool_content_limit", cfg.Context.ToolContentLimit))
	add(positive("context.tail_messages", cfg.Context.TailMessages))

	if cfg.Approvals.Timeout < 0 {
		add(fmt.Errorf("approvals.timeout must be >= 0"))
	}

	add(v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.Backups < 0 {
		add(fmt.Errorf("logging.max_size_mb and logging.backups must be >= 0"))
	}

	return errs
}
