package types

import "time"

// EpisodeSummary replaces a contiguous batch of aged MemoryEvents with a
// compact record. Episodes are read-only after creation and never overlap:
// each event is folded into at most one episode.
type EpisodeSummary struct {
	ID                   string         `json:"id"`
	EntityID             int64          `json:"entity_id"`
	SummaryText          string         `json:"summary_text"`
	EventCount           int            `json:"event_count"`
	ParticipantsInvolved []string       `json:"participants_involved"`
	TotalStatDeltas      map[string]int `json:"total_stat_deltas"`
	PeriodStart          time.Time      `json:"period_start"`
	PeriodEnd            time.Time      `json:"period_end"`
	CreatedAt            time.Time      `json:"created_at"`
}
