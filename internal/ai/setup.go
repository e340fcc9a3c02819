package ai

import (
	"fmt"
	"log/slog"

	"github.com/p-n-ai/cab-academy/internal/platform/config"
)

// NewRouterFromConfig registers every configured provider. The fallback
// order is OpenAI, Anthropic, Google, DeepSeek, OpenRouter, then Ollama.
func NewRouterFromConfig(cfg config.AIConfig) (*Router, error) {
	router := NewRouter()

	if key := cfg.OpenAI.APIKey; key != "" {
		router.Register("openai", NewOpenAIProvider(key))
	}
	if key := cfg.Anthropic.APIKey; key != "" {
		p, err := NewAnthropicProvider(key)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		router.Register("anthropic", p)
	}
	if key := cfg.Google.APIKey; key != "" {
		router.Register("google", NewGoogleProvider(key))
	}
	if key := cfg.DeepSeek.APIKey; key != "" {
		router.Register("deepseek", NewDeepSeekProvider(key))
	}
	if key := cfg.OpenRouter.APIKey; key != "" {
		router.Register("openrouter", NewOpenRouterProvider(key))
	}
	if cfg.Ollama.Enabled {
		router.Register("ollama", NewOllamaProvider(cfg.Ollama.URL, WithoutJSONMode()))
	}

	if !router.HasProvider() {
		return nil, ErrNoProvider
	}
	slog.Info("AI providers registered", "providers", router.Providers())
	return router, nil
}
