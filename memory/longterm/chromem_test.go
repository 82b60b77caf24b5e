package longterm_test

import (
	"context"
	"testing"
	"time"

	"github.com/companionkit/elio/capability/mock"
	"github.com/companionkit/elio/memory"
	"github.com/companionkit/elio/memory/longterm"
)

func newStore(t *testing.T) *longterm.Store {
	t.Helper()
	store, err := longterm.New(longterm.Config{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := mock.NewEmbedder().Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	return vec
}

func insert(t *testing.T, store *longterm.Store, text string) string {
	t.Helper()
	id, err := store.Insert(context.Background(), &memory.LongTermRecord{
		Text:      text,
		Embedding: embed(t, text),
		Timestamp: time.Now(),
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Failed to insert %q: %v", text, err)
	}
	return id
}

func TestQueryOrdersByDescendingSimilarity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	insert(t, store, "favourite colour is teal")
	insert(t, store, "grew up near the coast")
	insert(t, store, "allergic to peanuts")

	hits, err := store.Query(ctx, embed(t, "favourite colour is teal"), 3)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	// The exact text embeds to the identical vector, so it must rank first.
	if hits[0].Record.Text != "favourite colour is teal" {
		t.Errorf("top hit = %q", hits[0].Record.Text)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("hits out of order at %d: %f > %f", i, hits[i].Similarity, hits[i-1].Similarity)
		}
	}
}

func TestQueryClampsKToCollectionSize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	insert(t, store, "one thing")
	insert(t, store, "another thing")

	hits, err := store.Query(ctx, embed(t, "things"), 50)
	if err != nil {
		t.Fatalf("Query with oversized k should not error: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestQueryTieBreaksNewestFirst(t *testing.T) {
	ctx := context.Background()
	// Suppression off so both records land despite sharing an embedding.
	store, err := longterm.New(longterm.Config{NearDuplicateSimilarity: -1})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	shared := embed(t, "shared embedding")
	now := time.Now()
	if _, err := store.Insert(ctx, &memory.LongTermRecord{
		Text:      "remembered this a while ago",
		Embedding: shared,
		Timestamp: now.Add(-time.Hour),
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Failed to insert older record: %v", err)
	}
	if _, err := store.Insert(ctx, &memory.LongTermRecord{
		Text:      "remembered this just now",
		Embedding: shared,
		Timestamp: now,
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("Failed to insert newer record: %v", err)
	}

	hits, err := store.Query(ctx, shared, 2)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Similarity != hits[1].Similarity {
		t.Fatalf("similarities differ (%f vs %f), tie-break not exercised",
			hits[0].Similarity, hits[1].Similarity)
	}
	if hits[0].Record.Text != "remembered this just now" {
		t.Errorf("top hit = %q, want the newer record", hits[0].Record.Text)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	store := newStore(t)

	hits, err := store.Query(context.Background(), embed(t, "anything"), 5)
	if err != nil {
		t.Fatalf("Query on empty store should not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty store", len(hits))
	}
}

func TestInsertDeduplicatesIdenticalText(t *testing.T) {
	store := newStore(t)

	first := insert(t, store, "calls their dog Biscuit")
	second := insert(t, store, "calls their dog Biscuit")
	if first != second {
		t.Errorf("duplicate insert returned new id %q, want existing %q", second, first)
	}

	hits, err := store.Query(context.Background(), embed(t, "calls their dog Biscuit"), 10)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d records, want 1 after idempotent insert", len(hits))
	}
}

func TestInsertNormalizedDuplicate(t *testing.T) {
	store := newStore(t)

	first := insert(t, store, "Lives in Lisbon")
	// The fingerprint normalizes case and surrounding whitespace, so this
	// counts as the same memory even though the embedding differs.
	id, err := store.Insert(context.Background(), &memory.LongTermRecord{
		Text:      "  lives in lisbon ",
		Embedding: embed(t, "  lives in lisbon "),
		Timestamp: time.Now(),
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if id != first {
		t.Errorf("normalized variant stored as %q, want existing %q", id, first)
	}
}

func TestInsertRejectsEmptyRecord(t *testing.T) {
	store := newStore(t)

	if _, err := store.Insert(context.Background(), &memory.LongTermRecord{Text: "   "}); err == nil {
		t.Error("expected error for blank text")
	}
	if _, err := store.Insert(context.Background(), &memory.LongTermRecord{Text: "no embedding"}); err == nil {
		t.Error("expected error for missing embedding")
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := longterm.New(longterm.Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to create persistent store: %v", err)
	}
	id, err := store.Insert(ctx, &memory.LongTermRecord{
		Text:      "keeps a sourdough starter alive",
		Embedding: embed(t, "keeps a sourdough starter alive"),
		Timestamp: time.Now(),
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	store.Close()

	reopened, err := longterm.New(longterm.Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Query(ctx, embed(t, "keeps a sourdough starter alive"), 1)
	if err != nil {
		t.Fatalf("Failed to query reopened store: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != id {
		t.Errorf("reopened store did not return the persisted record")
	}
}
