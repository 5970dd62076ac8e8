package types

import (
	"sort"
	"strings"
	"time"
)

// MemoryEvent is a single narrative occurrence recorded for an entity.
// Events are immutable once written. They live in the durable event log until
// an EpisodeSummary folds them, at which point they are archived.
type MemoryEvent struct {
	// Core identification fields
	ID       string `json:"id"`        // UUID assigned on append
	EntityID int64  `json:"entity_id"` // Owning entity (player character)

	// Narrative content
	EventType    string                 `json:"event_type"`            // e.g. "goal_completed", "dialogue", "combat"
	Description  string                 `json:"description"`           // Full-detail prose of what happened
	Participants []string               `json:"participants"`          // Set of participant names (sorted, unique)
	StatDeltas   map[string]int         `json:"stat_deltas,omitempty"` // Stat changes caused by the event
	Context      map[string]interface{} `json:"context,omitempty"`     // Arbitrary structured context

	CreatedAt time.Time `json:"created_at"` // When the event occurred

	// Archival (set when folded into an episode)
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	EpisodeID  string     `json:"episode_id,omitempty"`
}

// ContextImportanceKey is the MemoryEvent.Context key holding an optional
// importance score in [0,1]. Events at or above the configured promotion
// threshold are remembered as long-term facts when they are compressed.
const ContextImportanceKey = "importance"

// Importance returns the event's importance hint from its context, or 0.
func (e *MemoryEvent) Importance() float64 {
	if e.Context == nil {
		return 0
	}
	switch v := e.Context[ContextImportanceKey].(type) {
	case float64:
		return ClampImportance(v)
	case float32:
		return ClampImportance(float64(v))
	case int:
		return ClampImportance(float64(v))
	case int64:
		return ClampImportance(float64(v))
	default:
		return 0
	}
}

// NormalizeParticipants returns the participant list as a set: trimmed,
// de-duplicated, with empty names dropped, sorted for deterministic storage.
func NormalizeParticipants(participants []string) []string {
	seen := make(map[string]struct{}, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// UnionParticipants returns the set union of all participants across events.
func UnionParticipants(events []MemoryEvent) []string {
	var all []string
	for _, ev := range events {
		all = append(all, ev.Participants...)
	}
	return NormalizeParticipants(all)
}

// SumStatDeltas returns the per-stat sum of StatDeltas across events.
// The result is never nil.
func SumStatDeltas(events []MemoryEvent) map[string]int {
	total := make(map[string]int)
	for _, ev := range events {
		for stat, delta := range ev.StatDeltas {
			total[stat] += delta
		}
	}
	return total
}
