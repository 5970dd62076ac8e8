package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/cache"
	"github.com/scrypster/lorekeeper/internal/config"
)

func TestOllamaClient_CompleteChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ChatMessage{Role: "assistant", Content: "The gate opened."}, Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "test-model"})
	out, err := c.CompleteChat(context.Background(), ChatRequest{
		System:    "You narrate.",
		Messages:  []ChatMessage{{Role: "user", Content: "Open the gate"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "The gate opened.", out)

	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.EqualValues(t, 64, got.Options["num_predict"])
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.25]]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "mentor")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOllamaClient_BreakerOpensOnErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	}

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 3, calls)
}

func TestOpenAIClient_SystemBecomesFirstMessage(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	out, err := c.CompleteChat(context.Background(), ChatRequest{
		Model:    "override",
		System:   "sys",
		Messages: []ChatMessage{{Role: "user", Content: "u"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "override", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, ChatMessage{Role: "system", Content: "sys"}, got.Messages[0])
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got anthropicMessagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.Equal(t, []ChatMessage{{Role: "user", Content: "hello"}}, got.Messages)
}

// promptOnly is a TextGenerator without chat support.
type promptOnly struct{ lastPrompt string }

func (p *promptOnly) Complete(_ context.Context, prompt string) (string, error) {
	p.lastPrompt = prompt
	return "generated", nil
}

func (p *promptOnly) GetModel() string { return "prompt-only" }

func TestGenerator_FlattensWithoutChat(t *testing.T) {
	gen := &promptOnly{}
	out, err := NewGenerator(gen).Generate(context.Background(), cache.Request{
		System:   "Narrate.",
		Messages: []cache.Message{{Role: "user", Content: "Enter the cave"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
	assert.Equal(t, "Narrate.\n\nuser: Enter the cave", gen.lastPrompt)
}

func TestFactory(t *testing.T) {
	cfg := config.Default().LLM

	gen, err := NewTextGenerator(cfg)
	require.NoError(t, err)
	assert.Nil(t, gen, "provider none yields no generator")

	cfg.Provider = ProviderOllama
	gen, err = NewTextGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.OllamaModel, gen.GetModel())

	cfg.Provider = ProviderAnthropic
	gen, err = NewTextGenerator(cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gen.GetModel(), "claude"))

	cfg.Provider = "bogus"
	_, err = NewTextGenerator(cfg)
	assert.Error(t, err)

	cfg.EmbeddingProvider = ProviderOllama
	emb, err := NewEmbeddingGenerator(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.EmbeddingModel, emb.GetModel())
}
