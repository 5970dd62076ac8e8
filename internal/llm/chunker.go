package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// DefaultMaxPromptTokens is the event budget of a single episode prompt.
const DefaultMaxPromptTokens = 3000

// EstimateTokens estimates the number of tokens in the given text.
// Uses a simple heuristic of approximately 4 characters per token,
// which is a reasonable approximation for English text with GPT-style tokenizers.
func EstimateTokens(text string) int {
	// Ceiling division: (chars + 3) / 4 rounds up
	return (len(text) + 3) / 4
}

// ChunkEvents splits events into consecutive batches whose formatted event
// lines fit in maxTokens each. Order is preserved and every batch holds at
// least one event, so a single oversized event gets a batch of its own.
func ChunkEvents(events []types.MemoryEvent, maxTokens int) [][]types.MemoryEvent {
	if len(events) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxPromptTokens
	}

	var (
		chunks        [][]types.MemoryEvent
		current       []types.MemoryEvent
		currentTokens int
	)
	for _, ev := range events {
		tokens := EstimateTokens(formatEventLine(ev))

		// Close the batch if adding this event would exceed the limit
		if currentTokens+tokens > maxTokens && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, ev)
		currentTokens += tokens
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// formatEventLine renders one event as it appears in an episode prompt.
func formatEventLine(ev types.MemoryEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%s] %s: %s", ev.CreatedAt.UTC().Format("2006-01-02 15:04"), ev.EventType, ev.Description)
	if len(ev.Participants) > 0 {
		fmt.Fprintf(&b, " (with %s)", strings.Join(ev.Participants, ", "))
	}
	if len(ev.StatDeltas) > 0 {
		fmt.Fprintf(&b, " [%s]", formatDeltas(ev.StatDeltas))
	}
	b.WriteByte('\n')
	return b.String()
}
