package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harun/coda/pkg/conversation"
)

// Config represents the main coda configuration
type Config struct {
	// Active provider and model
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`

	// Per-vendor credentials and endpoints
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	Agent     AgentConfig         `json:"agent" mapstructure:"agent"`
	Context   conversation.Limits `json:"context" mapstructure:"context"`
	Approvals ApprovalsConfig     `json:"approvals" mapstructure:"approvals"`
	Logging   LoggingConfig       `json:"logging" mapstructure:"logging"`

	// Data directory for sessions, logs and the allowlist
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds one vendor's settings
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	Model   string `json:"model" mapstructure:"model"`
}

// AgentConfig controls the tool loop
type AgentConfig struct {
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
	MaxTokens     int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	AutoApprove   bool          `json:"auto_approve" mapstructure:"auto_approve"`
	SystemPrompt  string        `json:"system_prompt" mapstructure:"system_prompt"`
	ToolTimeout   time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	// Re-prompt when the model stops mid task; 0 disables.
	MaxContinues int `json:"max_continues" mapstructure:"max_continues"`
}

// ApprovalsConfig holds command approval settings
type ApprovalsConfig struct {
	AllowlistPath string        `json:"allowlist_path" mapstructure:"allowlist_path"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	Backups   int    `json:"backups" mapstructure:"backups"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultSystemPrompt is used when agent.system_prompt is empty.
const DefaultSystemPrompt = `You are coda, a coding assistant working in the user's terminal.
Use the provided tools to inspect and change files in the working directory.
Prefer reading before editing. Keep answers short and concrete.`

// vendorKeyEnv maps providers to the environment variables their own SDKs read.
var vendorKeyEnv = map[string][]string{
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY"},
	"gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider:  "anthropic",
		Providers: map[string]ProviderConfig{},
		Agent: AgentConfig{
			MaxIterations: 25,
			MaxTokens:     4096,
			Temperature:   0.2,
			ToolTimeout:   2 * time.Minute,
			MaxContinues:  0,
		},
		Context: conversation.DefaultLimits(),
		Approvals: ApprovalsConfig{
			Timeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Backups:   3,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with keys masked
func (c *Config) String() string {
	masked := *c
	masked.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = MaskKey(p.APIKey)
		}
		masked.Providers[name] = p
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// MaskKey keeps the first and last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// ProviderSettings returns the settings for name with the API key falling
// back to the vendor's environment variable and the model to the top-level
// model when name is the active provider.
func (c *Config) ProviderSettings(name string) ProviderConfig {
	p := c.Providers[name]
	if p.APIKey == "" {
		p.APIKey = vendorAPIKey(name)
	}
	if p.Model == "" && name == c.Provider {
		p.Model = c.Model
	}
	return p
}

func vendorAPIKey(provider string) string {
	for _, env := range vendorKeyEnv[provider] {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// SystemPrompt returns the configured prompt or the default.
func (c *Config) SystemPrompt() string {
	if strings.TrimSpace(c.Agent.SystemPrompt) != "" {
		return c.Agent.SystemPrompt
	}
	return DefaultSystemPrompt
}

// Validate checks the fields that would prevent a chat from starting
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if _, keyed := vendorKeyEnv[c.Provider]; keyed && c.ProviderSettings(c.Provider).APIKey == "" {
		return fmt.Errorf("no API key for %s: set providers.%s.api_key or %s",
			c.Provider, c.Provider, vendorKeyEnv[c.Provider][0])
	}
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
