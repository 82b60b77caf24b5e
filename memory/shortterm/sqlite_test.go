package shortterm_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/memory"
	"github.com/companionkit/elio/memory/shortterm"
)

func newStore(t *testing.T) *shortterm.Store {
	t.Helper()
	store, err := shortterm.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func textRecord(session, text string, origin core.Origin) *memory.ShortTermRecord {
	return &memory.ShortTermRecord{Message: core.Message{
		SessionID: session,
		Modality:  core.ModalityText,
		Text:      text,
		Timestamp: time.Now(),
		Origin:    origin,
	}}
}

func TestAppendAssignsGapFreeSequences(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 1; i <= 10; i++ {
		seq, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser))
		if err != nil {
			t.Fatalf("Failed to append turn %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Errorf("turn %d got seq %d, want %d", i, seq, i)
		}
	}

	// A second session counts from 1 independently.
	seq, err := store.Append(ctx, textRecord("s2", "hello", core.OriginUser))
	if err != nil {
		t.Fatalf("Failed to append to s2: %v", err)
	}
	if seq != 1 {
		t.Errorf("s2 first seq = %d, want 1", seq)
	}
}

func TestReadWindowOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 1; i <= 5; i++ {
		if _, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser)); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	window, err := store.ReadWindow(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("Failed to read window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}
	for i, want := range []string{"turn 3", "turn 4", "turn 5"} {
		if window[i].Message.Text != want {
			t.Errorf("window[%d] = %q, want %q", i, window[i].Message.Text, want)
		}
	}

	// Asking for more than exists returns everything, oldest first.
	all, err := store.ReadWindow(ctx, "s1", 100)
	if err != nil {
		t.Fatalf("Failed to read full window: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("full window length = %d, want 5", len(all))
	}
	if all[0].Message.Text != "turn 1" {
		t.Errorf("oldest = %q, want %q", all[0].Message.Text, "turn 1")
	}
}

func TestTruncateToInsertsSummaryAtEvictedSeq(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 1; i <= 20; i++ {
		if _, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser)); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	summary := &memory.ShortTermRecord{
		Message:   core.Message{SessionID: "s1", Modality: core.ModalityText, Text: "they talked about twenty things"},
		IsSummary: true,
	}
	if err := store.TruncateTo(ctx, "s1", 5, summary); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	n, err := store.Len(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read len: %v", err)
	}
	if n != 6 {
		t.Errorf("len after truncate = %d, want 6 (summary + 5 raw)", n)
	}

	window, err := store.ReadWindow(ctx, "s1", 100)
	if err != nil {
		t.Fatalf("Failed to read window: %v", err)
	}
	if !window[0].IsSummary {
		t.Error("expected the oldest live record to be the summary")
	}
	if window[0].Message.Sequence != 1 {
		t.Errorf("summary seq = %d, want 1 (oldest evicted)", window[0].Message.Sequence)
	}
	if window[1].Message.Text != "turn 16" {
		t.Errorf("first raw turn = %q, want %q", window[1].Message.Text, "turn 16")
	}

	got, err := store.Summary(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if got != "they talked about twenty things" {
		t.Errorf("summary = %q", got)
	}

	// The counter survives compaction: the next append continues from 21.
	seq, err := store.Append(ctx, textRecord("s1", "turn 21", core.OriginUser))
	if err != nil {
		t.Fatalf("Failed to append after truncate: %v", err)
	}
	if seq != 21 {
		t.Errorf("seq after truncate = %d, want 21", seq)
	}
}

func TestTruncateToNoopWhenUnderCapacity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 1; i <= 3; i++ {
		if _, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser)); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	if err := store.TruncateTo(ctx, "s1", 5, &memory.ShortTermRecord{
		Message: core.Message{SessionID: "s1", Text: "should not appear"},
	}); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	n, err := store.Len(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read len: %v", err)
	}
	if n != 3 {
		t.Errorf("len = %d, want 3 (untouched)", n)
	}
	summary, err := store.Summary(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if summary != "" {
		t.Errorf("summary = %q, want empty", summary)
	}
}

func TestSecondCompactionReplacesSummary(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 1; i <= 10; i++ {
		if _, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser)); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	if err := store.TruncateTo(ctx, "s1", 3, &memory.ShortTermRecord{
		Message: core.Message{SessionID: "s1", Text: "first summary"}, IsSummary: true,
	}); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	for i := 11; i <= 15; i++ {
		if _, err := store.Append(ctx, textRecord("s1", fmt.Sprintf("turn %d", i), core.OriginUser)); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	if err := store.TruncateTo(ctx, "s1", 3, &memory.ShortTermRecord{
		Message: core.Message{SessionID: "s1", Text: "second summary"}, IsSummary: true,
	}); err != nil {
		t.Fatalf("Failed to truncate again: %v", err)
	}

	summary, err := store.Summary(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if summary != "second summary" {
		t.Errorf("summary = %q, want %q", summary, "second summary")
	}

	n, err := store.Len(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read len: %v", err)
	}
	if n != 4 {
		t.Errorf("len = %d, want 4 (summary + 3 raw)", n)
	}
}

func TestVoiceRecordKeepsTranscript(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	rec := &memory.ShortTermRecord{
		Message: core.Message{
			SessionID: "s1",
			Modality:  core.ModalityVoice,
			Binary:    []byte{1, 2, 3},
			Timestamp: time.Now(),
			Origin:    core.OriginUser,
		},
		Transcript: "good morning",
	}
	if _, err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	window, err := store.ReadWindow(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Failed to read window: %v", err)
	}
	if window[0].Text() != "good morning" {
		t.Errorf("Text() = %q, want transcript", window[0].Text())
	}
}
