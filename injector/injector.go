// Package injector builds the per-turn ContextBundle: current activity,
// top-k long-term retrieval, the rolling summary, and the recent
// short-term window, assembled under a unit budget.
package injector

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/companionkit/elio/capability"
	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/memory"
)

// Fixed per-item overhead in the unit estimate, covering formatting around
// each injected item.
const itemOverhead = 4

// Config bounds the bundle.
type Config struct {
	// TopK caps long-term retrieval.
	TopK int

	// WindowSize caps the recent short-term window read per turn.
	WindowSize int

	// UnitBudget caps the bundle's total unit cost. Drop order when over
	// budget: lowest-similarity memories first, then oldest window
	// entries. The activity descriptor and summary are never dropped.
	UnitBudget int

	// QueryTurns is how many recent turns are joined into the retrieval
	// query text.
	QueryTurns int

	// CallTimeout caps each capability call (activity lookup, query
	// embedding) made while building a bundle, so the caller's session
	// lock is never held across an unbounded wait.
	CallTimeout time.Duration
}

// DefaultConfig mirrors the companion's production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:        5,
		WindowSize:  10,
		UnitBudget:  4096,
		QueryTurns:  3,
		CallTimeout: 30 * time.Second,
	}
}

// Injector assembles ContextBundles. Bundles are built fresh every turn
// and never cached.
type Injector struct {
	activity  capability.ActivityProvider
	embedder  capability.Embedder
	longterm  memory.LongTermStore
	shortterm memory.ShortTermStore
	cfg       Config
	log       zerolog.Logger
}

// New creates an injector.
func New(activity capability.ActivityProvider, embedder capability.Embedder,
	long memory.LongTermStore, short memory.ShortTermStore, cfg Config, log zerolog.Logger) *Injector {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.UnitBudget <= 0 {
		cfg.UnitBudget = DefaultConfig().UnitBudget
	}
	if cfg.QueryTurns <= 0 {
		cfg.QueryTurns = DefaultConfig().QueryTurns
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Injector{
		activity:  activity,
		embedder:  embedder,
		longterm:  long,
		shortterm: short,
		cfg:       cfg,
		log:       log,
	}
}

// Build assembles the bundle for one turn. Short-term read failures are
// returned to the caller; activity, embedding, and retrieval failures are
// best-effort and produce a bundle without the affected section.
func (inj *Injector) Build(ctx context.Context, sessionID string, now time.Time) (*core.ContextBundle, error) {
	bundle := &core.ContextBundle{}

	window, err := inj.shortterm.ReadWindow(ctx, sessionID, inj.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	for i := range window {
		bundle.Window = append(bundle.Window, window[i].Turn())
	}

	summary, err := inj.shortterm.Summary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	bundle.Summary = summary

	if act, err := inj.currentActivity(ctx, now); err != nil {
		inj.log.Warn().Err(err).Msg("activity lookup failed, continuing without")
	} else {
		bundle.Activity = act
	}

	bundle.Memories = inj.retrieve(ctx, window)
	inj.fitBudget(bundle)
	return bundle, nil
}

// retrieve embeds the recent-turn context and queries long-term memory.
// Never fatal: a failed embed or query just omits the memory section.
func (inj *Injector) retrieve(ctx context.Context, window []memory.ShortTermRecord) []core.RetrievedMemory {
	query := inj.queryText(window)
	if query == "" {
		return nil
	}

	embedding, err := inj.embed(ctx, query)
	if err != nil {
		inj.log.Warn().Err(err).Msg("query embedding failed, skipping memory retrieval")
		return nil
	}

	hits, err := inj.longterm.Query(ctx, embedding, inj.cfg.TopK)
	if err != nil {
		inj.log.Warn().Err(err).Msg("long-term query failed, skipping memory retrieval")
		return nil
	}

	memories := make([]core.RetrievedMemory, 0, len(hits))
	for _, hit := range hits {
		inj.log.Debug().
			Str("memory", hit.Record.Text).
			Float32("similarity", hit.Similarity).
			Msg("retrieved memory")
		memories = append(memories, core.RetrievedMemory{
			ID:         hit.Record.ID,
			Text:       hit.Record.Text,
			Similarity: hit.Similarity,
			Timestamp:  hit.Record.Timestamp,
		})
	}
	return memories
}

// Capability calls get their own deadline; the stores are local and fast,
// the capabilities may not be.

func (inj *Injector) currentActivity(ctx context.Context, now time.Time) (core.ActivityDescriptor, error) {
	cctx, cancel := context.WithTimeout(ctx, inj.cfg.CallTimeout)
	defer cancel()
	return inj.activity.CurrentActivity(cctx, now)
}

func (inj *Injector) embed(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, inj.cfg.CallTimeout)
	defer cancel()
	return inj.embedder.Embed(cctx, text)
}

// queryText joins the last QueryTurns turns' text, skipping summaries.
func (inj *Injector) queryText(window []memory.ShortTermRecord) string {
	var parts []string
	for i := len(window) - 1; i >= 0 && len(parts) < inj.cfg.QueryTurns; i-- {
		if window[i].IsSummary {
			continue
		}
		if text := window[i].Text(); text != "" {
			parts = append(parts, text)
		}
	}
	// Restore chronological order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

// fitBudget trims the bundle to the unit budget. Memories arrive ordered
// by descending similarity, so dropping from the tail drops the lowest
// similarity first; window entries then drop oldest first. Activity and
// summary always stay.
func (inj *Injector) fitBudget(bundle *core.ContextBundle) {
	budget := inj.cfg.UnitBudget
	spent := unitCost(bundle.Activity.Describe()) + unitCost(bundle.Summary)

	memCost := 0
	for _, mem := range bundle.Memories {
		memCost += unitCost(mem.Text)
	}
	for spent+memCost > budget && len(bundle.Memories) > 0 {
		last := len(bundle.Memories) - 1
		memCost -= unitCost(bundle.Memories[last].Text)
		bundle.Memories = bundle.Memories[:last]
	}
	spent += memCost

	winCost := 0
	for _, turn := range bundle.Window {
		winCost += unitCost(turn.Text)
	}
	for spent+winCost > budget && len(bundle.Window) > 0 {
		winCost -= unitCost(bundle.Window[0].Text)
		bundle.Window = bundle.Window[1:]
	}
}

// unitCost is a deterministic token estimate: rune count plus a small
// per-item overhead. Empty items cost nothing.
func unitCost(s string) int {
	if s == "" {
		return 0
	}
	return utf8.RuneCountInString(s) + itemOverhead
}
