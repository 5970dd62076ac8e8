package types

import (
	"sort"
	"strings"
	"time"
)

// WorldState is the single mutable narrative state record for an entity.
// It is created lazily and only ever changed through WorldStatePatch merges.
type WorldState struct {
	EntityID          int64                  `json:"entity_id"`
	NPCRelationships  map[string]string      `json:"npc_relationships"`  // NPC name -> relationship ("friendly", "rival", ...)
	UnlockedLocations []string               `json:"unlocked_locations"` // Set of location names (sorted, unique)
	StoryFlags        map[string]interface{} `json:"story_flags"`        // Arbitrary flags; nested maps merge leaf by leaf
	NarrativeSummary  string                 `json:"narrative_summary"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// WorldStatePatch is a partial update. Nil/empty fields are left untouched.
//
//   - NPCRelationships: key-by-key upsert, sibling keys untouched
//   - UnlockedLocations: set union, never shrinks
//   - StoryFlags: recursive key-by-key upsert, overwriting at the leaf
//   - NarrativeSummary: replaced wholesale only when non-nil
type WorldStatePatch struct {
	NPCRelationships  map[string]string      `json:"npc_relationships,omitempty"`
	UnlockedLocations []string               `json:"unlocked_locations,omitempty"`
	StoryFlags        map[string]interface{} `json:"story_flags,omitempty"`
	NarrativeSummary  *string                `json:"narrative_summary,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p WorldStatePatch) IsEmpty() bool {
	return len(p.NPCRelationships) == 0 &&
		len(p.UnlockedLocations) == 0 &&
		len(p.StoryFlags) == 0 &&
		p.NarrativeSummary == nil
}

// NewWorldState returns the default empty state for an entity.
func NewWorldState(entityID int64) *WorldState {
	return &WorldState{
		EntityID:          entityID,
		NPCRelationships:  map[string]string{},
		UnlockedLocations: []string{},
		StoryFlags:        map[string]interface{}{},
	}
}

// Normalize replaces nil collections with empty ones so that serialised
// states always carry every field.
func (s *WorldState) Normalize() {
	if s.NPCRelationships == nil {
		s.NPCRelationships = map[string]string{}
	}
	if s.UnlockedLocations == nil {
		s.UnlockedLocations = []string{}
	}
	if s.StoryFlags == nil {
		s.StoryFlags = map[string]interface{}{}
	}
}

// Apply merges patch into the state in place and stamps UpdatedAt.
func (s *WorldState) Apply(patch WorldStatePatch, now time.Time) {
	s.Normalize()
	s.NPCRelationships = MergeRelationships(s.NPCRelationships, patch.NPCRelationships)
	s.UnlockedLocations = UnionLocations(s.UnlockedLocations, patch.UnlockedLocations)
	s.StoryFlags = MergeFlags(s.StoryFlags, patch.StoryFlags)
	if patch.NarrativeSummary != nil {
		s.NarrativeSummary = *patch.NarrativeSummary
	}
	s.UpdatedAt = now
}

// MergeRelationships upserts every key of update into base.
func MergeRelationships(base, update map[string]string) map[string]string {
	if base == nil {
		base = make(map[string]string, len(update))
	}
	for name, rel := range update {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		base[name] = rel
	}
	return base
}

// UnionLocations returns the sorted set union of base and update.
func UnionLocations(base, update []string) []string {
	set := make(map[string]struct{}, len(base)+len(update))
	for _, loc := range base {
		set[loc] = struct{}{}
	}
	for _, loc := range update {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		set[loc] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// MergeFlags recursively upserts update into base. When both sides hold a
// nested map for the same key the maps are merged; otherwise the update
// value replaces the existing leaf.
func MergeFlags(base, update map[string]interface{}) map[string]interface{} {
	if base == nil {
		base = make(map[string]interface{}, len(update))
	}
	for key, val := range update {
		newMap, newIsMap := val.(map[string]interface{})
		oldMap, oldIsMap := base[key].(map[string]interface{})
		if newIsMap && oldIsMap {
			base[key] = MergeFlags(oldMap, newMap)
			continue
		}
		if newIsMap {
			base[key] = MergeFlags(nil, newMap)
			continue
		}
		base[key] = val
	}
	return base
}
