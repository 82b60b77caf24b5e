package memory

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"github.com/companionkit/elio/core"
)

// ShortTermRecord is one stored turn in a session's log: the immutable
// Message plus derived fields. Voice turns carry their decoded transcript;
// summary records replace an evicted segment after compaction.
type ShortTermRecord struct {
	ID         string // ULID, assigned by the store
	Message    core.Message
	Transcript string
	IsSummary  bool
}

// Text returns the textual projection of the record: the transcript for
// voice turns, the message text otherwise.
func (r *ShortTermRecord) Text() string {
	if r.Message.Modality == core.ModalityVoice && r.Transcript != "" {
		return r.Transcript
	}
	return r.Message.Text
}

// Turn converts the record to the lightweight view carried in a
// ContextBundle.
func (r *ShortTermRecord) Turn() core.Turn {
	return core.Turn{
		Origin:    r.Message.Origin,
		Text:      r.Text(),
		Timestamp: r.Message.Timestamp,
	}
}

// ShortTermStore is the bounded, per-session ordered log of recent turns.
// Append assigns the session's next sequence number transactionally, so
// sequence numbers are strictly increasing with no gaps or duplicates even
// across compactions. Exceeding capacity never fails an append; the engine
// checks Len at end of turn and compacts via TruncateTo.
type ShortTermStore interface {
	// Append stores the record and returns the assigned sequence number.
	Append(ctx context.Context, rec *ShortTermRecord) (uint64, error)

	// ReadWindow returns up to n most recent records, oldest first.
	ReadWindow(ctx context.Context, sessionID string, n int) ([]ShortTermRecord, error)

	// Len returns the current log length for the session.
	Len(ctx context.Context, sessionID string) (int, error)

	// Summary returns the text of the latest summary record, or "".
	Summary(ctx context.Context, sessionID string) (string, error)

	// TruncateTo evicts everything except the keepLastN most recent
	// records and inserts summary in place of the evicted segment. The
	// summary record takes the sequence number of the oldest evicted
	// record, preserving total order among live rows.
	TruncateTo(ctx context.Context, sessionID string, keepLastN int, summary *ShortTermRecord) error

	Close() error
}

// LongTermRecord is one durable, similarity-indexed memory. Write-once:
// retrieval never mutates records, and supersession happens by writing new
// ones.
type LongTermRecord struct {
	ID          string
	Text        string
	Embedding   []float32
	Timestamp   time.Time
	SessionID   string
	Tags        []string
	Fingerprint uint64
}

// Retrieved pairs a long-term record with its query similarity.
type Retrieved struct {
	Record     LongTermRecord
	Similarity float32
}

// LongTermStore is the durable similarity-searchable memory collection.
type LongTermStore interface {
	// Insert stores the record and returns its id. Inserting content that
	// is an exact fingerprint match or a near-duplicate (similarity above
	// the store's threshold) of an existing record returns the existing
	// id instead of writing.
	Insert(ctx context.Context, rec *LongTermRecord) (string, error)

	// Query returns up to k records ordered by descending cosine
	// similarity, ties broken by more recent timestamp. k larger than the
	// collection returns everything without error.
	Query(ctx context.Context, embedding []float32, k int) ([]Retrieved, error)

	Close() error
}

// Fingerprint hashes normalized text content for exact-duplicate
// detection on long-term inserts.
func Fingerprint(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	return h.Sum64()
}
