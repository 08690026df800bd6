package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/config"
)

// New builds the completion client selected by cfg.Provider.
func New(cfg config.LLMConfig, log *zap.Logger) (*Client, error) {
	var gen Generator
	switch cfg.Provider {
	case "ollama":
		g, err := NewOllamaGenerator(cfg.Model, cfg.BaseURL, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		gen = g
	case "openai":
		gen = NewOpenAIGenerator(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	if log != nil {
		log.Info("completion client ready",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
		)
	}
	return NewClient(gen, cfg.Timeout, log), nil
}
