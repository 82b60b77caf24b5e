package engine

// State is the per-turn position in the orchestration graph. Transitions
// only move forward; a failure at any stage jumps straight to StateEnd
// carrying a degraded Response.
type State int

const (
	StateStart State = iota
	StateStoredLongTerm
	StateContextBuilt
	StateRouted
	StateNodeExecuted
	StateMaybeSummarized
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateStoredLongTerm:
		return "stored-long-term"
	case StateContextBuilt:
		return "context-built"
	case StateRouted:
		return "routed"
	case StateNodeExecuted:
		return "node-executed"
	case StateMaybeSummarized:
		return "maybe-summarized"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}
