// Package translate provides pluggable transcript translation providers
// behind a single contract. Translation failure is recoverable: the
// caller decides whether to deliver the untranslated transcript.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrProvider indicates the translation provider failed to produce a
// translation.
var ErrProvider = errors.New("translation failed")

// Translator transforms text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider   string // "openai", "ollama"
	Endpoint   string
	APIKey     string
	Model      string
	TargetLang string
	Timeout    time.Duration
}

// New builds a Translator from config. The target language tag is
// validated here so a typo fails at startup rather than mid-session.
// Returns (nil, nil) when the provider is "none" or empty.
func New(cfg Config) (Translator, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	if _, err := language.Parse(cfg.TargetLang); err != nil {
		return nil, fmt.Errorf("invalid target language %q: %w", cfg.TargetLang, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "openai":
		return newOpenAITranslator(cfg, client), nil
	case "ollama":
		return newOllamaTranslator(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q (supported: openai, ollama)", cfg.Provider)
	}
}

// prompt builds the system instruction shared by all providers.
func prompt(targetLang string) string {
	name := targetLang
	if tag, err := language.Parse(targetLang); err == nil {
		name = display.English.Languages().Name(tag)
	}
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's text into %s. "+
			"Output only the translation, with no explanation or commentary.", name)
}
