// Package postgres provides a PostgreSQL-backed implementation of the Voxgate
// memory interfaces: conversation history, long-term user memory, and avatar
// knowledge retrieval.
//
// All three layers share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//
//	_ = store.History().AppendTurn(ctx, turn)
//	entries, _ := store.Memories().Search(ctx, userID, "sleep habits", 5)
//	snippets, _ := store.Knowledge().Query(ctx, "magnesium", namespaces, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL DEFAULT '',
    avatar_id   TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_user_avatar_created
    ON turns (user_id, avatar_id, created_at);
`

const ddlMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories (user_id);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`

const ddlKnowledgeChunks = `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id          TEXT         PRIMARY KEY,
    namespace   TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_namespace
    ON knowledge_chunks (namespace);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the pgvector extension and all tables and indexes required
// by the store. It is idempotent and safe to run on every startup.
//
// embeddingDimensions must match the output dimension of the embedding model
// (e.g., 1536 for OpenAI text-embedding-3-small). Changing it after the first
// migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embeddingDimensions must be positive, got %d", embeddingDimensions)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		ddlTurns,
		fmt.Sprintf(ddlMemories, embeddingDimensions),
		fmt.Sprintf(ddlKnowledgeChunks, embeddingDimensions),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
