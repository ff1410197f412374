// Package llm streams chat completions from the configured provider.
package llm

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/config"
)

// New builds the streamer for cfg. An empty API key falls back to the
// provider's conventional environment variable.
func New(cfg config.IntelligentUpdateConfig, log *zap.Logger) (Streamer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIClient(cfg.Endpoint, key, log), nil
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(cfg.Endpoint, key, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// RequestFor fills the model settings of a request from cfg.
func RequestFor(cfg config.IntelligentUpdateConfig, messages []Message) Request {
	return Request{
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		ReasoningEffort: cfg.ReasoningEffort,
		MaxTokens:       cfg.MaxTokens,
		Messages:        messages,
	}
}
