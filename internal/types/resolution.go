package types

import "time"

// ResolutionType is the outcome chosen for a pending contradiction.
type ResolutionType string

const (
	ResolutionPending    ResolutionType = "pending"
	ResolutionKeepFirst  ResolutionType = "keep_first"
	ResolutionKeepSecond ResolutionType = "keep_second"
	ResolutionKeepBoth   ResolutionType = "keep_both"
	ResolutionMerge      ResolutionType = "merge"
	ResolutionDeleteBoth ResolutionType = "delete_both"
)

// ContradictionType classifies how a contradiction was detected (spec §4.5).
type ContradictionType string

const (
	ContradictionSemantic       ContradictionType = "semantic"
	ContradictionFactual        ContradictionType = "factual"
	ContradictionNegation       ContradictionType = "negation"
	ContradictionAntonym        ContradictionType = "antonym"
	ContradictionTemporal       ContradictionType = "temporal"
	ContradictionEntityConflict ContradictionType = "entity_conflict"
)

// SuggestedAction is the contradiction engine's recommendation for a flagged pair.
type SuggestedAction string

const (
	ActionFlag      SuggestedAction = "flag"
	ActionReplace   SuggestedAction = "replace"
	ActionMerge     SuggestedAction = "merge"
	ActionKeepBoth  SuggestedAction = "keep_both"
)

// ContradictionCandidate is one hit from the contradiction engine's pipeline.
type ContradictionCandidate struct {
	MemoryID        string            `json:"id"`
	Type            ContradictionType `json:"type"`
	Similarity      float64           `json:"similarity"`
	Confidence      float64           `json:"confidence"`
	Explanation     string            `json:"explanation"`
	SuggestedAction SuggestedAction   `json:"suggested_action"`
	Preview         string            `json:"preview"`
}

// ContradictionResolution is a row per pending conflict between two memories.
type ContradictionResolution struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	EdgeID         string         `json:"edge_id"`
	MemoryAID      string         `json:"memory_a_id"`
	MemoryBID      string         `json:"memory_b_id"`
	Type           ContradictionType `json:"type"`
	Confidence     float64        `json:"confidence"`
	ResolutionType ResolutionType `json:"resolution_type"`
	ChosenMemoryID *string        `json:"chosen_memory_id,omitempty"`
	Note           string         `json:"note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
