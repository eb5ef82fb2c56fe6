package model

import (
	"context"
	"fmt"

	"portfolio-rag/config"
)

// Prompt is a single-turn request to a completion service.
type Prompt struct {
	System string
	User   string
}

// FragmentStream yields incremental answer text. Next returns io.EOF after the
// last fragment. Close releases the underlying request and is safe to call twice.
type FragmentStream interface {
	Next() (string, error)
	Close() error
}

// Completer talks to a model-completion service.
// Stream returns an error only when the request could not be started.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Stream(ctx context.Context, p Prompt) (FragmentStream, error)
	Name() string
}

// NewCompleter builds the completion service selected in the configuration.
func NewCompleter(cfg config.CompletionConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaCompleter(cfg.URL, cfg.Model), nil
	case config.ProviderOpenAI:
		return NewOpenAICompleter(cfg.APIKey, cfg.URL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
