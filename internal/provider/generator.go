package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/secai-go/internal/prompt"
)

// ChatGenerator adapts an eino chat model to a text generator over prompts.
type ChatGenerator struct {
	name  string
	model model.BaseChatModel
}

// NewChatGenerator wraps m. name labels the generator in logs and answers.
func NewChatGenerator(name string, m model.BaseChatModel) (*ChatGenerator, error) {
	if m == nil {
		return nil, errors.New("provider: chat model is required")
	}
	return &ChatGenerator{name: name, model: m}, nil
}

// Name returns the generator's label.
func (g *ChatGenerator) Name() string { return g.name }

// Generate sends the prompt as a system and a user message and returns the
// text of the reply. SDK errors are returned unwrapped so callers can
// classify them.
func (g *ChatGenerator) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	msg, err := g.model.Generate(ctx, p.Messages())
	if err != nil {
		return "", err //nolint:wrapcheck // classified by the router
	}
	if msg == nil {
		return "", fmt.Errorf("provider: %s returned no message", g.name)
	}
	return msg.Content, nil
}
