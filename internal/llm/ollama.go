package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaGenerator talks to a local Ollama server.
type OllamaGenerator struct {
	model       llms.Model
	temperature float64
}

func NewOllamaGenerator(model, baseURL string, temperature float64) (*OllamaGenerator, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	m, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaGenerator{model: m, temperature: temperature}, nil
}

func (o *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o.model, prompt,
		llms.WithTemperature(o.temperature),
		llms.WithMaxTokens(2000),
	)
}
