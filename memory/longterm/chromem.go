// Package longterm implements the durable similarity-indexed memory
// collection on chromem-go, an embedded pure-Go vector database. The
// similarity metric is cosine (chromem's default) and is fixed.
package longterm

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/memory"
)

const collectionName = "long_term_memory"

// DefaultNearDuplicateSimilarity is the score at or above which an insert
// is treated as a rewrite of an existing memory and skipped.
const DefaultNearDuplicateSimilarity = 0.9

// Config configures the store.
type Config struct {
	// Path enables on-disk persistence; empty keeps everything in memory.
	Path string

	// NearDuplicateSimilarity overrides the dedup threshold; zero uses
	// the default. Negative disables near-duplicate suppression.
	NearDuplicateSimilarity float32
}

// Store implements memory.LongTermStore on chromem-go.
type Store struct {
	db        *chromem.DB
	col       *chromem.Collection
	dedupeSim float32

	mu      sync.Mutex
	entropy *rand.Rand
}

// New creates a store, persistent when cfg.Path is set.
func New(cfg Config) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	sim := cfg.NearDuplicateSimilarity
	switch {
	case sim == 0:
		sim = DefaultNearDuplicateSimilarity
	case sim < 0:
		sim = 2 // unreachable, disables suppression
	}

	return &Store{
		db:        db,
		col:       col,
		dedupeSim: sim,
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Insert stores a write-once record. An exact fingerprint match or a
// near-duplicate above the threshold returns the existing record's id
// without writing, making Insert idempotent for repeated content.
func (s *Store) Insert(ctx context.Context, rec *memory.LongTermRecord) (string, error) {
	if rec == nil || strings.TrimSpace(rec.Text) == "" {
		return "", &core.MemoryStoreError{Tier: core.TierLongTerm, Op: "insert", Err: fmt.Errorf("empty record")}
	}
	if len(rec.Embedding) == 0 {
		return "", &core.MemoryStoreError{Tier: core.TierLongTerm, Op: "insert", Err: fmt.Errorf("missing embedding")}
	}
	if rec.Fingerprint == 0 {
		rec.Fingerprint = memory.Fingerprint(rec.Text)
	}

	if existing, ok, err := s.findDuplicate(ctx, rec); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}

	if rec.ID == "" {
		s.mu.Lock()
		rec.ID = ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
		s.mu.Unlock()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"session_id":  rec.SessionID,
			"created_at":  rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"tags":        strings.Join(rec.Tags, ","),
			"fingerprint": strconv.FormatUint(rec.Fingerprint, 16),
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return "", &core.MemoryStoreError{Tier: core.TierLongTerm, Op: "insert", Err: err}
	}
	return rec.ID, nil
}

// findDuplicate checks the nearest existing record for an exact
// fingerprint match or near-duplicate similarity.
func (s *Store) findDuplicate(ctx context.Context, rec *memory.LongTermRecord) (string, bool, error) {
	nearest, err := s.Query(ctx, rec.Embedding, 1)
	if err != nil {
		return "", false, err
	}
	if len(nearest) == 0 {
		return "", false, nil
	}
	hit := nearest[0]
	if hit.Record.Fingerprint == rec.Fingerprint {
		return hit.Record.ID, true, nil
	}
	if hit.Similarity >= s.dedupeSim {
		return hit.Record.ID, true, nil
	}
	return "", false, nil
}

// Query returns up to k records by descending cosine similarity, ties
// broken newest-first. An empty collection or k beyond the collection
// size is not an error.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]memory.Retrieved, error) {
	if k <= 0 {
		return nil, nil
	}
	// chromem rejects nResults beyond the collection size.
	if count := s.col.Count(); count == 0 {
		return nil, nil
	} else if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, &core.MemoryStoreError{Tier: core.TierLongTerm, Op: "query", Err: err}
	}

	retrieved := make([]memory.Retrieved, 0, len(results))
	for _, res := range results {
		retrieved = append(retrieved, memory.Retrieved{
			Record:     recordFromResult(res),
			Similarity: res.Similarity,
		})
	}
	sort.SliceStable(retrieved, func(i, j int) bool {
		if retrieved[i].Similarity != retrieved[j].Similarity {
			return retrieved[i].Similarity > retrieved[j].Similarity
		}
		return retrieved[i].Record.Timestamp.After(retrieved[j].Record.Timestamp)
	})
	return retrieved, nil
}

func recordFromResult(res chromem.Result) memory.LongTermRecord {
	rec := memory.LongTermRecord{
		ID:        res.ID,
		Text:      res.Content,
		Embedding: res.Embedding,
		SessionID: res.Metadata["session_id"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, res.Metadata["created_at"]); err == nil {
		rec.Timestamp = ts
	}
	if tags := res.Metadata["tags"]; tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	if fp, err := strconv.ParseUint(res.Metadata["fingerprint"], 16, 64); err == nil {
		rec.Fingerprint = fp
	}
	return rec
}

// Close is a no-op for the in-memory db; persistence flushes on write.
func (s *Store) Close() error {
	return nil
}
