package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/memory"
)

// maybeSummarize compacts the session log once it reaches capacity: the
// oldest turns collapse into a single summary record, the KeepRecent
// newest stay raw. A prior summary is extended rather than replaced, so
// nothing already summarized is summarized twice.
func (e *Engine) maybeSummarize(ctx context.Context, sessionID string) error {
	length, err := e.short.Len(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("summarize: read length: %w", err)
	}
	if length < e.cfg.ShortTermCapacity {
		return nil
	}

	records, err := e.short.ReadWindow(ctx, sessionID, length)
	if err != nil {
		return fmt.Errorf("summarize: read log: %w", err)
	}
	if len(records) <= e.cfg.KeepRecent {
		return nil
	}
	evicted := records[:len(records)-e.cfg.KeepRecent]

	prior := ""
	var lines []string
	for i := range evicted {
		if evicted[i].IsSummary {
			prior = evicted[i].Text()
			continue
		}
		if text := evicted[i].Text(); text != "" {
			lines = append(lines, string(evicted[i].Message.Origin)+": "+text)
		}
	}
	transcript := strings.Join(lines, "\n")

	prompt := fmt.Sprintf(newSummaryPrompt, transcript)
	if prior != "" {
		prompt = fmt.Sprintf(extendSummaryPrompt, prior, transcript)
	}
	summary, err := e.generateText(ctx, prompt, nil)
	if err != nil {
		return fmt.Errorf("summarize: generate: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("summarize: generator returned an empty summary")
	}

	rec := &memory.ShortTermRecord{
		Message: core.Message{
			SessionID: sessionID,
			Modality:  core.ModalityText,
			Text:      summary,
			Timestamp: e.now(),
			Origin:    core.OriginCompanion,
		},
		IsSummary: true,
	}
	if err := e.short.TruncateTo(ctx, sessionID, e.cfg.KeepRecent, rec); err != nil {
		return fmt.Errorf("summarize: truncate: %w", err)
	}
	e.log.Info().
		Str("session", sessionID).
		Int("evicted", len(evicted)).
		Msg("compacted short-term log")
	return nil
}
