package llm

import (
	"context"
	"errors"

	"github.com/jonathan/brigade/internal/schemas"
)

// ErrEmptyResponse is returned when the backend answers without usable text
var ErrEmptyResponse = errors.New("empty response from model")

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateStructured asks the model for a response constrained to schema and returns
	// the raw response text. The text is not parsed or cleaned.
	GenerateStructured(ctx context.Context, prompt string, schema *schemas.Node, tier ModelTier) (string, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config, apiKey)
	default:
		return NewGeminiClient(ctx, config, apiKey)
	}
}
