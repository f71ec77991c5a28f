package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// langChain adapts any langchaingo model, which opens up the providers
// this package does not speak natively (Ollama, Vertex, Mistral, ...).
type langChain struct {
	model llms.Model
	name  string
}

// FromLangChain wraps model as an Adapter. name appears in logs.
func FromLangChain(model llms.Model, name string) Adapter {
	if name == "" {
		name = "langchain"
	}
	return &langChain{model: model, name: name}
}

func (l *langChain) Name() string { return l.name }

func (l *langChain) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	resp, err := l.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(req.maxTokens()),
		llms.WithTemperature(req.temperature()))
	if err != nil {
		return "", fmt.Errorf("langchain completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

var _ Adapter = (*langChain)(nil)
