package types

import (
	"math"
	"time"
)

// LongTermFact is a durable, importance-ranked statement about an entity's
// story. Facts are unique per (EntityID, Content).
type LongTermFact struct {
	ID             string    `json:"id"`
	EntityID       int64     `json:"entity_id"`
	Content        string    `json:"content"`
	Importance     float64   `json:"importance"` // Importance score (0.0-1.0)
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// Score is the relevance score assigned by a search. It is not persisted.
	Score float64 `json:"score,omitempty"`
}

// importancePrecision keeps stored scores free of float noise such as
// 0.9 + 0.05 = 0.9500000000000001.
const importancePrecision = 1e6

// ClampImportance rounds an importance score to six decimal places and clamps
// it to [0.0, 1.0]. NaN is treated as 0.
func ClampImportance(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v*importancePrecision) / importancePrecision
	return math.Min(math.Max(v, 0.0), 1.0)
}

// ReinforceImportance adds delta to current and clamps the result. Repeated
// large reinforcements converge to exactly 1.0.
func ReinforceImportance(current, delta float64) float64 {
	return ClampImportance(current + delta)
}
