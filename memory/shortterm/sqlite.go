// Package shortterm implements the session-scoped short-term store on
// SQLite. Sequence numbers live in a per-session counter row and are
// assigned inside the append transaction, which is what keeps them
// gap-free and duplicate-free even across compactions and restarts.
package shortterm

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/memory"
)

// Store implements memory.ShortTermStore on a SQLite database.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// New opens or creates the database at dbPath. Use ":memory:" for an
// ephemeral store in tests.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		next_seq   INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(session_id),
		seq        INTEGER NOT NULL,
		record_id  TEXT NOT NULL,
		origin     TEXT NOT NULL,
		modality   TEXT NOT NULL,
		text       TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		is_summary INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_summary ON turns(session_id, is_summary, seq DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Append stores the record, creating the session row on first contact,
// and returns the assigned sequence number.
func (s *Store) Append(ctx context.Context, rec *memory.ShortTermRecord) (uint64, error) {
	if rec == nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: fmt.Errorf("nil record")}
	}
	sessionID := rec.Message.SessionID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, next_seq, created_at) VALUES(?, 1, ?)
		 ON CONFLICT(session_id) DO NOTHING`, sessionID, now); err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: err}
	}

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`UPDATE sessions SET next_seq = next_seq + 1 WHERE session_id = ? RETURNING next_seq - 1`,
		sessionID).Scan(&seq); err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: err}
	}

	if rec.ID == "" {
		rec.ID = s.newID()
	}
	ts := rec.Message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	isSummary := 0
	if rec.IsSummary {
		isSummary = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns(session_id, seq, record_id, origin, modality, text, transcript, is_summary, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, rec.ID, string(rec.Message.Origin), string(rec.Message.Modality),
		rec.Message.Text, rec.Transcript, isSummary, ts.UTC().Format(time.RFC3339Nano)); err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "append", Err: err}
	}
	rec.Message.Sequence = seq
	return seq, nil
}

// ReadWindow returns up to n most recent records, oldest first.
func (s *Store) ReadWindow(ctx context.Context, sessionID string, n int) ([]memory.ShortTermRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, record_id, origin, modality, text, transcript, is_summary, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "read", Err: err}
	}
	defer rows.Close()

	var recs []memory.ShortTermRecord
	for rows.Next() {
		rec, err := scanTurn(rows, sessionID)
		if err != nil {
			return nil, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "read", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "read", Err: err}
	}

	// Reverse into chronological order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func scanTurn(rows *sql.Rows, sessionID string) (memory.ShortTermRecord, error) {
	var (
		rec       memory.ShortTermRecord
		isSummary int
		createdAt string
	)
	if err := rows.Scan(&rec.Message.Sequence, &rec.ID, (*string)(&rec.Message.Origin),
		(*string)(&rec.Message.Modality), &rec.Message.Text, &rec.Transcript, &isSummary, &createdAt); err != nil {
		return rec, err
	}
	rec.Message.SessionID = sessionID
	rec.IsSummary = isSummary == 1
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.Message.Timestamp = ts
	}
	return rec, nil
}

// Len returns the number of live records for the session.
func (s *Store) Len(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "len", Err: err}
	}
	return n, nil
}

// Summary returns the text of the most recent summary record, or "".
func (s *Store) Summary(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM turns WHERE session_id = ? AND is_summary = 1 ORDER BY seq DESC LIMIT 1`,
		sessionID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "summary", Err: err}
	}
	return text, nil
}

// TruncateTo evicts all but the keepLastN most recent records and inserts
// summary in the evicted segment's place, reusing the oldest evicted
// sequence number. A log already at or under keepLastN is left untouched.
func (s *Store) TruncateTo(ctx context.Context, sessionID string, keepLastN int, summary *memory.ShortTermRecord) error {
	if keepLastN < 0 {
		keepLastN = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
	}
	defer tx.Rollback()

	// Oldest sequence that survives the compaction. keepLastN == 0 evicts
	// the whole log, so the cutoff sits past the newest row.
	var cutoff uint64
	if keepLastN == 0 {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(seq) FROM turns WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
			return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
		}
		if !maxSeq.Valid {
			return nil
		}
		cutoff = uint64(maxSeq.Int64) + 1
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT seq FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`,
			sessionID, keepLastN-1).Scan(&cutoff)
		if err == sql.ErrNoRows {
			return nil // fewer than keepLastN records, nothing to evict
		}
		if err != nil {
			return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
		}
	}

	var evictSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MIN(seq) FROM turns WHERE session_id = ? AND seq < ?`,
		sessionID, cutoff).Scan(&evictSeq)
	if err != nil {
		return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
	}
	if !evictSeq.Valid {
		return nil // nothing below the cutoff
	}
	summarySeq := uint64(evictSeq.Int64)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND seq < ?`, sessionID, cutoff); err != nil {
		return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
	}

	if summary != nil {
		if summary.ID == "" {
			summary.ID = s.newID()
		}
		ts := summary.Message.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns(session_id, seq, record_id, origin, modality, text, transcript, is_summary, created_at)
			 VALUES(?, ?, ?, ?, ?, ?, '', 1, ?)`,
			sessionID, summarySeq, summary.ID, string(core.OriginCompanion), string(core.ModalityText),
			summary.Message.Text, ts.UTC().Format(time.RFC3339Nano)); err != nil {
			return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
		}
		summary.Message.SessionID = sessionID
		summary.Message.Sequence = summarySeq
		summary.IsSummary = true
	}

	if err := tx.Commit(); err != nil {
		return &core.MemoryStoreError{Tier: core.TierShortTerm, Op: "truncate", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
