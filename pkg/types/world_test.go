package types_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/scrypster/lorekeeper/pkg/types"
)

func TestApply_DisjointRelationshipKeysBothSurvive(t *testing.T) {
	state := types.NewWorldState(7)
	now := time.Now()

	state.Apply(types.WorldStatePatch{NPCRelationships: map[string]string{"A": "friendly"}}, now)
	state.Apply(types.WorldStatePatch{NPCRelationships: map[string]string{"B": "professional"}}, now)

	if state.NPCRelationships["A"] != "friendly" {
		t.Errorf("expected A=friendly, got %q", state.NPCRelationships["A"])
	}
	if state.NPCRelationships["B"] != "professional" {
		t.Errorf("expected B=professional, got %q", state.NPCRelationships["B"])
	}
}

func TestApply_OverwritesLeafOnly(t *testing.T) {
	state := types.NewWorldState(1)
	state.Apply(types.WorldStatePatch{StoryFlags: map[string]interface{}{
		"chapter": map[string]interface{}{"number": 1, "title": "Beginnings"},
		"met_king": false,
	}}, time.Now())

	state.Apply(types.WorldStatePatch{StoryFlags: map[string]interface{}{
		"chapter": map[string]interface{}{"number": 2},
	}}, time.Now())

	chapter, ok := state.StoryFlags["chapter"].(map[string]interface{})
	if !ok {
		t.Fatalf("chapter flag should remain a map, got %T", state.StoryFlags["chapter"])
	}
	if chapter["number"] != 2 {
		t.Errorf("expected chapter.number=2, got %v", chapter["number"])
	}
	if chapter["title"] != "Beginnings" {
		t.Errorf("sibling leaf chapter.title should be untouched, got %v", chapter["title"])
	}
	if state.StoryFlags["met_king"] != false {
		t.Errorf("untouched flag met_king changed: %v", state.StoryFlags["met_king"])
	}
}

func TestApply_LocationsUnionNeverShrinks(t *testing.T) {
	state := types.NewWorldState(1)
	state.Apply(types.WorldStatePatch{UnlockedLocations: []string{"village", "forest"}}, time.Now())
	state.Apply(types.WorldStatePatch{UnlockedLocations: []string{"forest", "mountain", " "}}, time.Now())

	want := []string{"forest", "mountain", "village"}
	if !reflect.DeepEqual(state.UnlockedLocations, want) {
		t.Errorf("expected %v, got %v", want, state.UnlockedLocations)
	}
}

func TestApply_NarrativeSummaryOnlyWhenIncluded(t *testing.T) {
	state := types.NewWorldState(1)
	summary := "The hero left home."
	state.Apply(types.WorldStatePatch{NarrativeSummary: &summary}, time.Now())
	state.Apply(types.WorldStatePatch{UnlockedLocations: []string{"road"}}, time.Now())

	if state.NarrativeSummary != summary {
		t.Errorf("summary should survive unrelated patch, got %q", state.NarrativeSummary)
	}

	empty := ""
	state.Apply(types.WorldStatePatch{NarrativeSummary: &empty}, time.Now())
	if state.NarrativeSummary != "" {
		t.Errorf("explicit empty summary should replace, got %q", state.NarrativeSummary)
	}
}

func TestWorldStatePatch_IsEmpty(t *testing.T) {
	if !(types.WorldStatePatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	s := ""
	if (types.WorldStatePatch{NarrativeSummary: &s}).IsEmpty() {
		t.Error("patch with explicit summary should not be empty")
	}
}
