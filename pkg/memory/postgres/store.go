package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ memory.HistoryStore   = (*HistoryStoreImpl)(nil)
	_ memory.MemoryStore    = (*MemoryStoreImpl)(nil)
	_ memory.KnowledgeIndex = (*KnowledgeIndexImpl)(nil)
)

// Store is the central PostgreSQL-backed store for Voxgate. It holds a single
// [pgxpool.Pool] and exposes the three storage concerns as sub-types:
//
//   - [Store.History] returns a [HistoryStoreImpl] implementing [memory.HistoryStore]
//   - [Store.Memories] returns a [MemoryStoreImpl] implementing [memory.MemoryStore]
//   - [Store.Knowledge] returns a [KnowledgeIndexImpl] implementing [memory.KnowledgeIndex]
//
// The memory and knowledge layers embed queries through the supplied
// embeddings provider before vector search. All operations are safe for
// concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	history   *HistoryStoreImpl
	memories  *MemoryStoreImpl
	knowledge *KnowledgeIndexImpl
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
//
// The embedder's Dimensions() determines the vector column width; it must
// match the model used to populate the knowledge_chunks table.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		history:   &HistoryStoreImpl{pool: pool},
		memories:  &MemoryStoreImpl{pool: pool, embedder: embedder},
		knowledge: &KnowledgeIndexImpl{pool: pool, embedder: embedder},
	}, nil
}

// History returns the conversation log implementation.
func (s *Store) History() *HistoryStoreImpl { return s.history }

// Memories returns the long-term user memory implementation.
func (s *Store) Memories() *MemoryStoreImpl { return s.memories }

// Knowledge returns the avatar knowledge retrieval implementation.
func (s *Store) Knowledge() *KnowledgeIndexImpl { return s.knowledge }

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
