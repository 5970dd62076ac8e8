package types_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/scrypster/lorekeeper/pkg/types"
)

func TestReinforceImportance_ExactSums(t *testing.T) {
	got := types.ReinforceImportance(0.9, 0.05)
	if got != 0.95 {
		t.Errorf("0.9 + 0.05 should be exactly 0.95, got %v", got)
	}
}

func TestReinforceImportance_ClampsToOne(t *testing.T) {
	score := 0.95
	for i := 0; i < 5; i++ {
		score = types.ReinforceImportance(score, 0.5)
		if score > 1.0 {
			t.Fatalf("score exceeded 1.0: %v", score)
		}
	}
	if score != 1.0 {
		t.Errorf("repeated reinforcement should converge to 1.0, got %v", score)
	}
}

func TestClampImportance_Bounds(t *testing.T) {
	cases := map[string]struct {
		in   float64
		want float64
	}{
		"negative": {-0.3, 0},
		"above":    {1.7, 1},
		"inside":   {0.42, 0.42},
		"nan":      {math.NaN(), 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := types.ClampImportance(tc.in); got != tc.want {
				t.Errorf("ClampImportance(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeParticipants(t *testing.T) {
	got := types.NormalizeParticipants([]string{"Mira", " Aldric ", "", "Mira"})
	want := []string{"Aldric", "Mira"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSumStatDeltas(t *testing.T) {
	events := []types.MemoryEvent{
		{StatDeltas: map[string]int{"strength": 2, "wisdom": 1}},
		{StatDeltas: map[string]int{"strength": -1}},
		{},
	}
	got := types.SumStatDeltas(events)
	if got["strength"] != 1 || got["wisdom"] != 1 {
		t.Errorf("unexpected totals: %v", got)
	}
	if types.SumStatDeltas(nil) == nil {
		t.Error("SumStatDeltas should never return nil")
	}
}

func TestMemoryEvent_Importance(t *testing.T) {
	ev := types.MemoryEvent{Context: map[string]interface{}{types.ContextImportanceKey: 0.8}}
	if ev.Importance() != 0.8 {
		t.Errorf("expected 0.8, got %v", ev.Importance())
	}
	ev.Context[types.ContextImportanceKey] = "high"
	if ev.Importance() != 0 {
		t.Errorf("non-numeric importance should read as 0, got %v", ev.Importance())
	}
}
