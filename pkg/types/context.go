package types

// ContextBundle is the composed input context for one generation request.
// Every section is always present; a section whose source was empty or
// failing holds an empty default rather than nil.
type ContextBundle struct {
	EntityID         int64            `json:"entity_id"`
	WorkingMemory    []MemoryEvent    `json:"working_memory"`
	EpisodeSummaries []EpisodeSummary `json:"episode_summaries"`
	LongTermFacts    []LongTermFact   `json:"long_term_facts"`
	WorldState       WorldState       `json:"world_state"`
	NarrativeSummary string           `json:"narrative_summary"`

	// Degraded lists the sections that fell back to their empty default
	// because their source returned an error.
	Degraded []string `json:"degraded,omitempty"`
}

// Context bundle section names.
const (
	SectionWorkingMemory    = "working_memory"
	SectionEpisodeSummaries = "episode_summaries"
	SectionLongTermFacts    = "long_term_facts"
	SectionWorldState       = "world_state"
	SectionNarrativeSummary = "narrative_summary"
)
