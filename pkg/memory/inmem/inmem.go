// Package inmem provides in-process implementations of the memory interfaces.
//
// They back the server when no Postgres DSN is configured: conversations work
// for the lifetime of the process and are lost on restart. Memory search uses
// naive token overlap instead of vector similarity, which is good enough for
// local development and tests but not a substitute for pgvector.
package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.HistoryStore   = (*HistoryStore)(nil)
	_ memory.MemoryStore    = (*MemoryStore)(nil)
	_ memory.KnowledgeIndex = (*KnowledgeIndex)(nil)
)

// defaultRecentLimit applies when RecentTurns is called with a zero limit.
const defaultRecentLimit = 20

// HistoryStore is an in-process conversation log.
type HistoryStore struct {
	mu    sync.Mutex
	turns map[string][]memory.Turn // keyed by userID + "\x00" + avatarID
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{turns: make(map[string][]memory.Turn)}
}

func historyKey(userID, avatarID string) string {
	return userID + "\x00" + avatarID
}

// AppendTurn implements [memory.HistoryStore].
func (s *HistoryStore) AppendTurn(_ context.Context, turn memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := historyKey(turn.UserID, turn.AvatarID)
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

// RecentTurns implements [memory.HistoryStore].
func (s *HistoryStore) RecentTurns(_ context.Context, userID, avatarID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.turns[historyKey(userID, avatarID)]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]memory.Turn, len(all))
	copy(out, all)
	return out, nil
}

// MemoryStore holds long-term facts in process memory. Search ranks by the
// fraction of query tokens present in the fact text.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]memory.Entry // keyed by userID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]memory.Entry)}
}

// Add implements [memory.MemoryStore].
func (s *MemoryStore) Add(_ context.Context, userID, text string) (*memory.Entry, error) {
	entry := memory.Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.entries[userID] = append(s.entries[userID], entry)
	s.mu.Unlock()
	return &entry, nil
}

// Search implements [memory.MemoryStore].
func (s *MemoryStore) Search(_ context.Context, userID, query string, topK int) ([]memory.Entry, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 || topK <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	candidates := make([]memory.Entry, len(s.entries[userID]))
	copy(candidates, s.entries[userID])
	s.mu.Unlock()

	var scored []memory.Entry
	for _, e := range candidates {
		text := strings.ToLower(e.Text)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		e.Score = float64(hits) / float64(len(tokens))
		scored = append(scored, e)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Delete implements [memory.MemoryStore].
func (s *MemoryStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries[userID]
	for i, e := range entries {
		if e.ID == id {
			s.entries[userID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// KnowledgeIndex serves a fixed snippet set loaded at construction. An empty
// index answers every query with no results, which the pipeline treats as
// "no knowledge available".
type KnowledgeIndex struct {
	snippets []memory.Snippet
}

// NewKnowledgeIndex creates an index over the given snippets.
func NewKnowledgeIndex(snippets ...memory.Snippet) *KnowledgeIndex {
	s := make([]memory.Snippet, len(snippets))
	copy(s, snippets)
	return &KnowledgeIndex{snippets: s}
}

// Query implements [memory.KnowledgeIndex].
func (k *KnowledgeIndex) Query(_ context.Context, query string, namespaces []string, topK int) ([]memory.Snippet, error) {
	if len(namespaces) == 0 || topK <= 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		allowed[ns] = true
	}

	tokens := strings.Fields(strings.ToLower(query))
	var scored []memory.Snippet
	for _, sn := range k.snippets {
		if !allowed[sn.Namespace] {
			continue
		}
		text := strings.ToLower(sn.Content)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		sn.Score = float64(hits) / float64(max(len(tokens), 1))
		scored = append(scored, sn)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
