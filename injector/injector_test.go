package injector_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionkit/elio/capability/mock"
	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/injector"
	"github.com/companionkit/elio/memory"
	"github.com/companionkit/elio/memory/longterm"
	"github.com/companionkit/elio/memory/shortterm"
)

// fixedActivity always reports the same descriptor.
type fixedActivity struct {
	desc core.ActivityDescriptor
	err  error
}

func (f *fixedActivity) CurrentActivity(ctx context.Context, at time.Time) (core.ActivityDescriptor, error) {
	return f.desc, f.err
}

func setup(t *testing.T, cfg injector.Config) (*injector.Injector, *shortterm.Store, *longterm.Store) {
	t.Helper()
	short, err := shortterm.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create short-term store: %v", err)
	}
	t.Cleanup(func() { short.Close() })

	long, err := longterm.New(longterm.Config{})
	if err != nil {
		t.Fatalf("Failed to create long-term store: %v", err)
	}
	t.Cleanup(func() { long.Close() })

	activity := &fixedActivity{desc: core.ActivityDescriptor{Activity: "reading", Location: "the sofa"}}
	inj := injector.New(activity, mock.NewEmbedder(), long, short, cfg, zerolog.Nop())
	return inj, short, long
}

func appendText(t *testing.T, short *shortterm.Store, session, text string, origin core.Origin) {
	t.Helper()
	_, err := short.Append(context.Background(), &memory.ShortTermRecord{Message: core.Message{
		SessionID: session,
		Modality:  core.ModalityText,
		Text:      text,
		Timestamp: time.Now(),
		Origin:    origin,
	}})
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
}

func insertMemory(t *testing.T, long *longterm.Store, text string) {
	t.Helper()
	vec, err := mock.NewEmbedder().Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	if _, err := long.Insert(context.Background(), &memory.LongTermRecord{
		Text:      text,
		Embedding: vec,
		Timestamp: time.Now(),
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Failed to insert memory: %v", err)
	}
}

func TestBuildAssemblesAllSections(t *testing.T) {
	ctx := context.Background()
	inj, short, long := setup(t, injector.DefaultConfig())

	appendText(t, short, "s1", "hey, what are you up to?", core.OriginUser)
	appendText(t, short, "s1", "just reading, you?", core.OriginCompanion)
	insertMemory(t, long, "prefers tea over coffee")

	bundle, err := inj.Build(ctx, "s1", time.Now())
	if err != nil {
		t.Fatalf("Failed to build bundle: %v", err)
	}

	if bundle.Activity.Describe() != "reading (the sofa)" {
		t.Errorf("activity = %q", bundle.Activity.Describe())
	}
	if len(bundle.Window) != 2 {
		t.Errorf("window length = %d, want 2", len(bundle.Window))
	}
	if len(bundle.Memories) != 1 {
		t.Fatalf("memories length = %d, want 1", len(bundle.Memories))
	}
	if bundle.Memories[0].Text != "prefers tea over coffee" {
		t.Errorf("memory = %q", bundle.Memories[0].Text)
	}
	if bundle.Summary != "" {
		t.Errorf("summary = %q, want empty before first compaction", bundle.Summary)
	}
}

func TestBuildEmptyStores(t *testing.T) {
	inj, _, _ := setup(t, injector.DefaultConfig())

	bundle, err := inj.Build(context.Background(), "fresh", time.Now())
	if err != nil {
		t.Fatalf("Failed to build bundle for a fresh session: %v", err)
	}
	if len(bundle.Window) != 0 || len(bundle.Memories) != 0 {
		t.Errorf("expected empty window and memories, got %d/%d", len(bundle.Window), len(bundle.Memories))
	}
	// Activity is independent of session history.
	if bundle.Activity.Activity != "reading" {
		t.Errorf("activity = %q, want reading", bundle.Activity.Activity)
	}
}

func TestBuildActivityFailureIsNotFatal(t *testing.T) {
	short, err := shortterm.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create short-term store: %v", err)
	}
	defer short.Close()
	long, err := longterm.New(longterm.Config{})
	if err != nil {
		t.Fatalf("Failed to create long-term store: %v", err)
	}
	defer long.Close()

	activity := &fixedActivity{err: fmt.Errorf("schedule service down")}
	inj := injector.New(activity, mock.NewEmbedder(), long, short, injector.DefaultConfig(), zerolog.Nop())

	appendText(t, short, "s1", "hello", core.OriginUser)
	bundle, err := inj.Build(context.Background(), "s1", time.Now())
	if err != nil {
		t.Fatalf("activity failure must not fail the build: %v", err)
	}
	if bundle.Activity.Describe() != "" {
		t.Errorf("activity = %q, want empty on lookup failure", bundle.Activity.Describe())
	}
}

// blockingEmbedder hangs until its context deadline fires.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return make([]float32, 4), nil
	}
}

func (blockingEmbedder) Dimensions() int { return 4 }

// blockingActivity hangs until its context deadline fires.
type blockingActivity struct{}

func (blockingActivity) CurrentActivity(ctx context.Context, at time.Time) (core.ActivityDescriptor, error) {
	select {
	case <-ctx.Done():
		return core.ActivityDescriptor{}, ctx.Err()
	case <-time.After(30 * time.Second):
		return core.ActivityDescriptor{Activity: "never happens"}, nil
	}
}

func TestCapabilityCallsRunUnderCallTimeout(t *testing.T) {
	short, err := shortterm.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create short-term store: %v", err)
	}
	defer short.Close()
	long, err := longterm.New(longterm.Config{})
	if err != nil {
		t.Fatalf("Failed to create long-term store: %v", err)
	}
	defer long.Close()

	cfg := injector.DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	inj := injector.New(blockingActivity{}, blockingEmbedder{}, long, short, cfg, zerolog.Nop())

	appendText(t, short, "s1", "hello", core.OriginUser)

	start := time.Now()
	bundle, err := inj.Build(context.Background(), "s1", time.Now())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("best-effort capability failures must not fail the build: %v", err)
	}
	// One activity lookup plus one embed, each cut off at 50ms.
	if elapsed > time.Second {
		t.Fatalf("Build took %v with CallTimeout=50ms", elapsed)
	}
	if bundle.Activity.Describe() != "" {
		t.Error("expected no activity after a timed-out lookup")
	}
	if len(bundle.Memories) != 0 {
		t.Error("expected no memories after a timed-out query embedding")
	}
	if len(bundle.Window) != 1 {
		t.Errorf("window length = %d, want 1", len(bundle.Window))
	}
}

func TestBudgetDropsMemoriesBeforeWindow(t *testing.T) {
	cfg := injector.DefaultConfig()
	cfg.UnitBudget = 120
	inj, short, long := setup(t, cfg)

	appendText(t, short, "s1", "short turn one", core.OriginUser)
	appendText(t, short, "s1", "short turn two", core.OriginCompanion)
	appendText(t, short, "s1", "short turn three", core.OriginUser)

	insertMemory(t, long, strings.Repeat("a long remembered fact ", 5))
	insertMemory(t, long, strings.Repeat("another long remembered fact ", 5))
	insertMemory(t, long, strings.Repeat("yet another remembered fact ", 5))

	bundle, err := inj.Build(context.Background(), "s1", time.Now())
	if err != nil {
		t.Fatalf("Failed to build bundle: %v", err)
	}

	// The oversized memories must be shed before any window entry is. With
	// this budget at least part of the window fits, so the window survives.
	if len(bundle.Memories) >= 3 {
		t.Errorf("expected memories to be trimmed, still have %d", len(bundle.Memories))
	}
	if len(bundle.Window) == 0 {
		t.Error("window was emptied while memories should drop first")
	}
}

func TestBudgetDropsOldestWindowEntries(t *testing.T) {
	cfg := injector.DefaultConfig()
	cfg.UnitBudget = 60
	inj, short, _ := setup(t, cfg)

	appendText(t, short, "s1", strings.Repeat("old ", 10), core.OriginUser)
	appendText(t, short, "s1", "middle turn here", core.OriginCompanion)
	appendText(t, short, "s1", "newest turn", core.OriginUser)

	bundle, err := inj.Build(context.Background(), "s1", time.Now())
	if err != nil {
		t.Fatalf("Failed to build bundle: %v", err)
	}
	if len(bundle.Window) == 0 {
		t.Fatal("window fully dropped")
	}
	newest := bundle.Window[len(bundle.Window)-1]
	if newest.Text != "newest turn" {
		t.Errorf("newest surviving turn = %q, want the latest one", newest.Text)
	}
	if len(bundle.Window) == 3 {
		t.Error("expected the oldest oversized turn to be dropped")
	}
}

func TestWindowRespectsConfiguredSize(t *testing.T) {
	cfg := injector.DefaultConfig()
	cfg.WindowSize = 4
	inj, short, _ := setup(t, cfg)

	for i := 0; i < 10; i++ {
		appendText(t, short, "s1", fmt.Sprintf("turn %d", i), core.OriginUser)
	}

	bundle, err := inj.Build(context.Background(), "s1", time.Now())
	if err != nil {
		t.Fatalf("Failed to build bundle: %v", err)
	}
	if len(bundle.Window) != 4 {
		t.Errorf("window length = %d, want 4", len(bundle.Window))
	}
	if bundle.Window[3].Text != "turn 9" {
		t.Errorf("latest = %q, want turn 9", bundle.Window[3].Text)
	}
}
