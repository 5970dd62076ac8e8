package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Key prefixes. L1 keys are content hashes of a Request; L3 keys are
// addressed by component type and identifier.
const (
	L1Prefix     = "l1:"
	L3Prefix     = "l3:"
	l1HitsPrefix = "l1hits:"
)

// Message is one turn of a generator conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a generator call. Only the fields that change the generated
// output take part in the cache key; Metadata carries incidental caller
// data (request IDs, trace headers, user agent) and is never hashed.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`

	Metadata map[string]string `json:"-"`
}

// Key returns the deterministic L1 key for req.
func Key(req Request) string {
	canonical := Request{
		Model:       strings.TrimSpace(req.Model),
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if canonical.Messages == nil {
		canonical.Messages = []Message{}
	}
	// Marshal of a struct with string/int/float fields cannot fail.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return L1Prefix + hex.EncodeToString(sum[:])
}

// ComponentKey returns the L3 key for a static component.
func ComponentKey(componentType, identifier string) string {
	return L3Prefix + componentType + ":" + identifier
}
