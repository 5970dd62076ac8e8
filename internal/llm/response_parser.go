package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySummary is returned when the model produced no summary text.
var ErrEmptySummary = errors.New("llm returned an empty summary")

// summaryResponse is the JSON shape requested by the summary prompts.
type summaryResponse struct {
	Summary string `json:"summary"`
}

// extractJSON extracts the first complete JSON object from text that may
// carry markdown fences or chatter around it. Raw newlines, carriage
// returns and tabs inside string literals are escaped, since models often
// wrap long summaries across lines.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) - start)
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		char := text[i]
		if escape {
			escape = false
			b.WriteByte(char)
			continue
		}
		if char == '\\' {
			escape = true
			b.WriteByte(char)
			continue
		}
		if char == '"' {
			inString = !inString
			b.WriteByte(char)
			continue
		}
		if inString {
			switch char {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(char)
			}
			continue
		}
		b.WriteByte(char)
		switch char {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b.String()
			}
		}
	}
	return text
}

// ParseSummaryResponse returns the trimmed summary from a model response.
func ParseSummaryResponse(text string) (string, error) {
	var resp summaryResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return "", fmt.Errorf("failed to parse summary JSON: %w", err)
	}
	summary := strings.Join(strings.Fields(resp.Summary), " ")
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
