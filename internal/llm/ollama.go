package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/lorekeeper/internal/breaker"
)

// OllamaClient handles communication with the Ollama API for local inference.
// Every call goes through a circuit breaker.
type OllamaClient struct {
	baseURL string
	client  *http.Client
	breaker *breaker.Breaker
	model   string
	timeout time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model used for completions or embeddings (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout (default: 60s)
	Timeout time.Duration
}

// ollamaChatRequest is the request body for /api/chat.
type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaChatResponse is the non-streaming response from /api/chat.
type ollamaChatResponse struct {
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// embedRequest represents the request body for /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the /api/embed response; we always use the first embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama client, applying defaults for
// zero config values.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker.New(breaker.Config{Name: "ollama"}),
		model:   config.Model,
		timeout: config.Timeout,
	}
}

// Complete sends a single user prompt to Ollama and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteChat(ctx, userPrompt(prompt))
}

// CompleteChat sends a conversation to Ollama's chat endpoint.
func (c *OllamaClient) CompleteChat(ctx context.Context, req ChatRequest) (string, error) {
	out, err := breaker.Do(ctx, c.breaker, func() (string, error) {
		return c.complete(ctx, req)
	})
	if errors.Is(err, breaker.ErrOpen) {
		return "", fmt.Errorf("ollama circuit breaker open: %w", err)
	}
	return out, err
}

func (c *OllamaClient) complete(ctx context.Context, chat ChatRequest) (string, error) {
	messages := make([]ChatMessage, 0, len(chat.Messages)+1)
	if chat.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: chat.System})
	}
	messages = append(messages, chat.Messages...)

	reqBody := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": chat.Temperature},
	}
	if chat.Model != "" {
		reqBody.Model = chat.Model
	}
	if chat.MaxTokens > 0 {
		reqBody.Options["num_predict"] = chat.MaxTokens
	}

	var respData ollamaChatResponse
	if err := c.post(ctx, "/api/chat", reqBody, &respData); err != nil {
		return "", err
	}
	return respData.Message.Content, nil
}

// Embed generates an embedding for text using the configured model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := breaker.Do(ctx, c.breaker, func() ([]float32, error) {
		var respData embedResponse
		if err := c.post(ctx, "/api/embed", embedRequest{Model: c.model, Input: text}, &respData); err != nil {
			return nil, err
		}
		if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
			return nil, fmt.Errorf("ollama returned empty embedding vector")
		}
		return respData.Embeddings[0], nil
	})
	if errors.Is(err, breaker.ErrOpen) {
		return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
	}
	return vec, err
}

func (c *OllamaClient) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck verifies that Ollama is reachable via /api/version. It is
// not routed through the breaker since it is a probe itself.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Compile-time assertions.
var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ ChatCompleter      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)
