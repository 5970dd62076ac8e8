// Package llm talks to the external generator and summarizer services
// (Ollama, OpenAI, Anthropic). It provides the HTTP clients, strict
// JSON-only summarization prompts with their parser, a rate-limited
// Summarizer and a Generator adapter for the response cache.
package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// EpisodeSummaryPrompt asks for a past-tense recap of a batch of events.
func EpisodeSummaryPrompt(events []types.MemoryEvent) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(formatEventLine(ev))
	}

	return fmt.Sprintf(`TASK: Summarize a character's story events into one episode recap.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

RULES:
- 2-4 sentences, past tense, third person
- Keep names of people and places exactly as written
- Mention outcomes, not mechanics

EVENTS (oldest first):
%s
Return ONLY JSON object, nothing else:
{"summary":"..."}`, b.String())
}

// NarrativeMergePrompt asks for the prior story summary rewritten to
// include a new development, within maxWords.
func NarrativeMergePrompt(prior, development string, maxWords int) string {
	return fmt.Sprintf(`TASK: Update a running story summary with a new development.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

RULES:
- At most %d words
- Keep who the character is and the main threads from the prior summary
- The new development must be reflected
- Past tense, third person

PRIOR SUMMARY:
%s

NEW DEVELOPMENT:
%s

Return ONLY JSON object, nothing else:
{"summary":"..."}`, maxWords, prior, development)
}

func formatDeltas(deltas map[string]int) string {
	stats := make([]string, 0, len(deltas))
	for stat := range deltas {
		stats = append(stats, stat)
	}
	sort.Strings(stats)
	parts := make([]string, len(stats))
	for i, stat := range stats {
		parts[i] = fmt.Sprintf("%s %+d", stat, deltas[stat])
	}
	return strings.Join(parts, ", ")
}
