// Package persona generates in-character replies and figures out
// which character a chat message addresses. It defines a
// provider-agnostic LLM interface with an OpenAI implementation and a
// deterministic mock for testing.
package persona

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// LLM defines the interface for interacting with language models.
// Implementations must be stateless and thread-safe.
type LLM interface {
	// Generate produces text from a prompt using the configured model.
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Model specifies the model identifier (e.g., "gpt-4o")
	Model string

	// Temperature controls randomness (0.0 = deterministic, 2.0 = very random)
	Temperature float32

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// APIKey is the authentication key for the provider
	APIKey string

	// MaxRetries bounds attempts per request (default: 3)
	MaxRetries int

	// RetryBackoff is the initial wait between attempts, doubled per
	// retry (default: 1s)
	RetryBackoff time.Duration
}

// DefaultLLMConfig returns sensible defaults for dialog generation.
// Replies need to be short enough to plausibly match a subtitle line,
// so the token cap is tight.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:        "gpt-4o",
		Temperature:  0.7,
		MaxTokens:    120,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}
