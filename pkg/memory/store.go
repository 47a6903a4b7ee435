// Package memory defines the storage interfaces behind the Voxgate
// conversation pipeline.
//
// Three concerns are kept separate because they have different access
// patterns and different owners:
//
//   - [HistoryStore]: append-only conversation log, read by recency window.
//   - [MemoryStore]: user-scoped long-term facts with similarity search.
//   - [KnowledgeIndex]: read-only avatar knowledge, scoped by namespace.
//
// All interfaces are public so external packages can supply alternative
// backends (Postgres/pgvector, Redis, in-memory, ...) without depending on
// voxgate internals. Every implementation must be safe for concurrent use.
package memory

import "context"

// HistoryStore is the append-only conversation log.
//
// The pipeline persists the user turn before the assistant turn for the same
// exchange; implementations must preserve insertion order within a
// (user, avatar) pair.
type HistoryStore interface {
	// AppendTurn persists one turn. The turn's ID and CreatedAt must be set
	// by the caller.
	AppendTurn(ctx context.Context, turn Turn) error

	// RecentTurns returns up to limit most-recent turns for the given user
	// and avatar, oldest first. A zero limit applies an implementation
	// default.
	RecentTurns(ctx context.Context, userID, avatarID string, limit int) ([]Turn, error)
}

// MemoryStore holds long-term facts about a user, searchable by semantic
// similarity.
type MemoryStore interface {
	// Add stores a fact for the user. Returns the stored entry with its
	// generated ID.
	Add(ctx context.Context, userID, text string) (*Entry, error)

	// Search returns up to topK facts most similar to query, best first.
	Search(ctx context.Context, userID, query string, topK int) ([]Entry, error)

	// Delete removes one fact by ID. Deleting a missing ID is not an error.
	Delete(ctx context.Context, userID, id string) error
}

// KnowledgeIndex serves avatar knowledge-base retrieval. Ingestion is owned
// elsewhere; the pipeline only queries.
type KnowledgeIndex interface {
	// Query returns up to topK snippets most similar to query across the
	// given namespaces, best first. An empty namespaces slice matches
	// nothing and returns an empty result.
	Query(ctx context.Context, query string, namespaces []string, topK int) ([]Snippet, error)
}
