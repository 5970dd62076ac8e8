package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that an optimistic write lost a race, e.g. a
	// compression tried to archive events another compression already claimed.
	ErrConflict = errors.New("conflicting concurrent update")
)

// Limits applied when callers pass non-positive values.
const (
	DefaultListLimit = 10
	MaxListLimit     = 500
)

// NormalizeLimit applies the default and maximum list limits.
func NormalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// GlobToLike translates a '*'/'?' glob into a SQL LIKE pattern that must be
// used with ESCAPE '\'. Literal '%', '_' and '\' are escaped.
func GlobToLike(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GlobToSQLite translates a '*'/'?' glob for SQLite's GLOB operator.
// GLOB also reads '[...]' as a character class; brackets are wrapped in
// one-character classes so they match literally, as in every other tier.
func GlobToSQLite(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for _, r := range pattern {
		switch r {
		case '[':
			b.WriteString("[[]")
		case ']':
			b.WriteString("[]]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stopWords carry no discriminative value in keyword search.
var stopWords = map[string]bool{
	"an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"what": true, "how": true, "when": true, "where": true, "who": true, "which": true,
	"this": true, "that": true, "it": true, "he": true, "she": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
}

// SearchTerms splits a free-form query into lower-cased alphanumeric terms,
// dropping stop words, duplicates and one-letter noise. The result is
// deterministic and safe to embed in FTS5 or tsquery expressions.
func SearchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}
