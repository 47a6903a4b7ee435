package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
)

// KnowledgeIndexImpl serves avatar knowledge retrieval from the
// knowledge_chunks table with a pgvector HNSW index. Ingestion of chunks is
// owned by the document pipeline outside this repository; this type only
// queries.
//
// Obtain one via [Store.Knowledge] rather than constructing directly.
// All methods are safe for concurrent use.
type KnowledgeIndexImpl struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Query implements [memory.KnowledgeIndex]. The query text is embedded and
// matched against chunks in the given namespaces by cosine distance.
//
// An empty namespaces slice returns an empty result without touching the
// database; an avatar with no configured namespaces has no knowledge base.
func (k *KnowledgeIndexImpl) Query(ctx context.Context, query string, namespaces []string, topK int) ([]memory.Snippet, error) {
	if len(namespaces) == 0 {
		return []memory.Snippet{}, nil
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge index: embed query: %w", err)
	}

	const q = `
		SELECT id, namespace, content, 1 - (embedding <=> $1) AS score
		FROM   knowledge_chunks
		WHERE  namespace = ANY($2)
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := k.pool.Query(ctx, q, pgvector.NewVector(vec), namespaces, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge index: query: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Snippet, error) {
		var s memory.Snippet
		err := row.Scan(&s.ID, &s.Namespace, &s.Content, &s.Score)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge index: collect results: %w", err)
	}
	return snippets, nil
}
