package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
)

// MemoryStoreImpl is the long-term user memory layer backed by the memories
// table with a pgvector HNSW index.
//
// Obtain one via [Store.Memories] rather than constructing directly.
// All methods are safe for concurrent use.
type MemoryStoreImpl struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Add implements [memory.MemoryStore]. The fact is embedded and inserted with
// a generated UUID.
func (m *MemoryStoreImpl) Add(ctx context.Context, userID, text string) (*memory.Entry, error) {
	if text == "" {
		return nil, fmt.Errorf("memory store: add: text must not be empty")
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memory store: embed: %w", err)
	}

	entry := &memory.Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	const q = `
		INSERT INTO memories (id, user_id, text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = m.pool.Exec(ctx, q, entry.ID, entry.UserID, entry.Text, pgvector.NewVector(vec), entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("memory store: insert: %w", err)
	}
	return entry, nil
}

// Search implements [memory.MemoryStore]. The query is embedded and matched
// against the user's memories by cosine distance; results carry a similarity
// score in (0, 1], higher is more similar.
func (m *MemoryStoreImpl) Search(ctx context.Context, userID, query string, topK int) ([]memory.Entry, error) {
	if topK <= 0 {
		topK = 5
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory store: embed query: %w", err)
	}

	const q = `
		SELECT id, user_id, text, created_at, 1 - (embedding <=> $1) AS score
		FROM   memories
		WHERE  user_id = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := m.pool.Query(ctx, q, pgvector.NewVector(vec), userID, topK)
	if err != nil {
		return nil, fmt.Errorf("memory store: search: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var e memory.Entry
		err := row.Scan(&e.ID, &e.UserID, &e.Text, &e.CreatedAt, &e.Score)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: collect results: %w", err)
	}
	return entries, nil
}

// Delete implements [memory.MemoryStore]. Deleting a missing ID is a no-op.
func (m *MemoryStoreImpl) Delete(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM memories WHERE id = $1 AND user_id = $2`
	if _, err := m.pool.Exec(ctx, q, id, userID); err != nil {
		return fmt.Errorf("memory store: delete: %w", err)
	}
	return nil
}
