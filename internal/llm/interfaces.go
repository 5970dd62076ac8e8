package llm

import "context"

// TextGenerator is the interface for single-prompt LLM completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// ChatCompleter is implemented by generators that accept a system prompt
// and a multi-turn conversation.
type ChatCompleter interface {
	CompleteChat(ctx context.Context, req ChatRequest) (string, error)
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat completion request. Zero
// MaxTokens uses the client default; Model overrides the client model
// when set.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

func userPrompt(prompt string) ChatRequest {
	return ChatRequest{Messages: []ChatMessage{{Role: "user", Content: prompt}}}
}
