package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wizard asks for the settings needed to start chatting
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run starts from base (or the defaults) and returns the edited config
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := DefaultConfig()
	if base != nil {
		copied := *base
		copied.Providers = make(map[string]ProviderConfig, len(base.Providers))
		for k, v := range base.Providers {
			copied.Providers[k] = v
		}
		cfg = &copied
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== coda setup ===")
	fmt.Fprintf(w.out, "Providers: %s\n\n", strings.Join(validator.providers, ", "))

	for {
		provider, err := w.ask("Provider", cfg.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Provider = provider
		break
	}

	settings := cfg.Providers[cfg.Provider]
	if _, keyed := vendorKeyEnv[cfg.Provider]; keyed {
		for {
			current := ""
			if settings.APIKey != "" {
				current = MaskKey(settings.APIKey)
			}
			key, err := w.ask("API key (Enter to keep, or to use the environment)", current)
			if err != nil {
				return nil, err
			}
			if key == current {
				break
			}
			if err := validator.ValidateAPIKey(key, cfg.Provider); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			settings.APIKey = key
			break
		}
	} else {
		baseURL, err := w.ask("Base URL (Enter for the default)", settings.BaseURL)
		if err != nil {
			return nil, err
		}
		settings.BaseURL = baseURL
	}
	cfg.Providers[cfg.Provider] = settings

	model, err := w.ask("Model (Enter for the provider default)", cfg.Model)
	if err != nil {
		return nil, err
	}
	cfg.Model = model

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out, "Configuration complete!")
	return cfg, nil
}

// ask prints a prompt with the current value and returns the answer or the
// current value on an empty line.
func (w *Wizard) ask(prompt, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("setup aborted: no input")
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}
