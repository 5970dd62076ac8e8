package llm

import (
	"context"
	"strings"

	"github.com/scrypster/lorekeeper/internal/cache"
)

// Generator adapts a TextGenerator to cache.Generator so generation
// requests can be served through the response cache.
type Generator struct {
	gen TextGenerator
}

// NewGenerator wraps gen.
func NewGenerator(gen TextGenerator) *Generator {
	return &Generator{gen: gen}
}

// Generate runs req as a chat completion when the model supports it, and
// as a flattened single prompt otherwise.
func (g *Generator) Generate(ctx context.Context, req cache.Request) (string, error) {
	if chat, ok := g.gen.(ChatCompleter); ok {
		messages := make([]ChatMessage, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = ChatMessage{Role: m.Role, Content: m.Content}
		}
		return chat.CompleteChat(ctx, ChatRequest{
			Model:       req.Model,
			System:      req.System,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	}
	return g.gen.Complete(ctx, FlattenRequest(req))
}

// FlattenRequest renders a chat request as one prompt.
func FlattenRequest(req cache.Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

var _ cache.Generator = (*Generator)(nil)
