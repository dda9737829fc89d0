package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Switcher keeps the current adapter and rebuilds it only when the
// provider, model or credential changes.
type Switcher struct {
	registry *Registry
	configs  func(provider string) Config

	mu      sync.Mutex
	key     string
	current Adapter
}

// NewSwitcher creates a switcher. configs supplies the per-provider config
// (API key, base URL, logger); the model argument of Current overrides its Model.
func NewSwitcher(registry *Registry, configs func(provider string) Config) *Switcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Switcher{registry: registry, configs: configs}
}

// Current returns the adapter for provider and model, reusing the cached one
// when nothing changed.
func (s *Switcher) Current(provider, model string) (Adapter, error) {
	cfg := Config{}
	if s.configs != nil {
		cfg = s.configs(provider)
	}
	if model != "" {
		cfg.Model = model
	}

	key := provider + "\x00" + cfg.Model + "\x00" + fingerprint(cfg.APIKey) + "\x00" + cfg.BaseURL

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.key == key {
		return s.current, nil
	}

	adapter, err := s.registry.New(provider, cfg)
	if err != nil {
		return nil, err
	}
	s.key = key
	s.current = adapter
	return adapter, nil
}

// fingerprint identifies a credential without keeping it in the cache key.
func fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
