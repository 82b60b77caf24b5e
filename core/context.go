package core

import (
	"fmt"
	"time"
)

// ActivityDescriptor is the externally supplied, time-indexed description
// of what the companion is currently doing. Read-only to the core.
type ActivityDescriptor struct {
	Activity  string
	Location  string
	StartedAt time.Time
}

// Describe renders the descriptor for prompt injection.
func (a ActivityDescriptor) Describe() string {
	if a.Activity == "" {
		return ""
	}
	if a.Location != "" {
		return fmt.Sprintf("%s (%s)", a.Activity, a.Location)
	}
	return a.Activity
}

// RetrievedMemory is one long-term record as returned by a similarity
// query, carrying its score.
type RetrievedMemory struct {
	ID         string
	Text       string
	Similarity float32
	Timestamp  time.Time
}

// ContextBundle is the ephemeral per-turn aggregate the injector hands to
// the processing nodes. It is rebuilt from scratch every turn and never
// cached across turns.
type ContextBundle struct {
	Activity ActivityDescriptor

	// Summary is the rolling conversation summary maintained by the
	// short-term tier, empty until the first compaction.
	Summary string

	// Memories are ordered by descending similarity, capped at the
	// configured top-k and trimmed to the unit budget.
	Memories []RetrievedMemory

	// Window is the recent short-term window, oldest first.
	Window []Turn
}

// Routing paths form a closed set; the engine switches over them.
type Path string

const (
	PathConversation Path = "conversation"
	PathImage        Path = "image"
	PathAudio        Path = "audio"
)

// RoutingDecision is the router's pure output. Never persisted, recomputed
// each turn.
type RoutingDecision struct {
	Path      Path
	Rationale string
}
