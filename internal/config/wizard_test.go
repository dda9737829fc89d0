package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("should retry invalid answers", func(t *testing.T) {
		input := strings.Join([]string{
			"bard",
			"openai",
			"not-a-key",
			"sk-test-openai",
			"gpt-4o-mini",
			"",
		}, "\n") + "\n"
		var out bytes.Buffer

		cfg, err := NewWizard(strings.NewReader(input), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Provider)
		assert.Equal(t, "sk-test-openai", cfg.Providers["openai"].APIKey)
		assert.Equal(t, "gpt-4o-mini", cfg.Model)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Contains(t, out.String(), "unknown provider: bard")
		assert.Contains(t, out.String(), "invalid OpenAI API key format")
	})

	t.Run("should keep existing values on empty answers", func(t *testing.T) {
		base := DefaultConfig()
		base.Providers["anthropic"] = ProviderConfig{APIKey: "sk-ant-existing-key-123"}
		base.Model = "claude-sonnet-4-5"

		cfg, err := NewWizard(strings.NewReader("\n\n\n\n"), &bytes.Buffer{}).Run(base)

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider)
		assert.Equal(t, "sk-ant-existing-key-123", cfg.Providers["anthropic"].APIKey)
		assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	})

	t.Run("should ask for a base URL for ollama", func(t *testing.T) {
		input := "ollama\nhttp://gpu-box:11434/\nqwen2.5-coder\ndebug\n"

		cfg, err := NewWizard(strings.NewReader(input), &bytes.Buffer{}).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "http://gpu-box:11434/", cfg.Providers["ollama"].BaseURL)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("should abort on end of input", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader(""), &bytes.Buffer{}).Run(nil)
		assert.Error(t, err)
	})
}
