// Package memory defines the two-tier memory subsystem: a bounded,
// per-session ordered short-term log and a durable, similarity-indexed
// long-term collection.
//
// Architecture:
//   - ShortTermStore: ordered turn log with transactional sequence
//     assignment and summarization-driven compaction (SQLite in
//     memory/shortterm)
//   - LongTermStore: write-once vector records with cosine retrieval and
//     near-duplicate suppression (chromem-go in memory/longterm)
//   - CachedEmbedder: ristretto cache in front of any capability.Embedder
//
// The stores support concurrent use across sessions; short-term mutation
// for a single session is additionally serialized by the engine's
// per-session lock.
package memory
