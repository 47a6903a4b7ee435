// Package mock provides in-memory test doubles for the memory interfaces.
//
// The doubles record every invocation so tests can assert on call order and
// arguments, and serve configurable canned responses. All types are safe for
// concurrent use; the response pipeline exercises them from multiple
// goroutines.
package mock

import (
	"context"
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

// HistoryStore is a mock implementation of [memory.HistoryStore] that keeps
// turns in an in-memory slice.
type HistoryStore struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by AppendTurn.
	AppendErr error

	// RecentErr, if non-nil, is returned by RecentTurns.
	RecentErr error

	// Turns holds every appended turn in insertion order.
	Turns []memory.Turn

	// RecentCalls counts RecentTurns invocations.
	RecentCalls int
}

// AppendTurn records the turn or returns AppendErr.
func (h *HistoryStore) AppendTurn(_ context.Context, turn memory.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.AppendErr != nil {
		return h.AppendErr
	}
	h.Turns = append(h.Turns, turn)
	return nil
}

// RecentTurns returns the stored turns for (userID, avatarID), oldest first,
// capped at limit.
func (h *HistoryStore) RecentTurns(_ context.Context, userID, avatarID string, limit int) ([]memory.Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.RecentCalls++
	if h.RecentErr != nil {
		return nil, h.RecentErr
	}

	var out []memory.Turn
	for _, t := range h.Turns {
		if t.UserID == userID && t.AvatarID == avatarID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AllTurns returns a copy of every appended turn. Intended for assertions.
func (h *HistoryStore) AllTurns() []memory.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]memory.Turn, len(h.Turns))
	copy(out, h.Turns)
	return out
}

// SearchCall records one MemoryStore.Search invocation.
type SearchCall struct {
	UserID string
	Query  string
	TopK   int
}

// MemoryStore is a mock implementation of [memory.MemoryStore].
type MemoryStore struct {
	mu sync.Mutex

	// SearchResults is returned by Search.
	SearchResults []memory.Entry

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// AddErr, if non-nil, is returned by Add.
	AddErr error

	// SearchDelay artificially delays Search, for timeout tests.
	SearchDelay time.Duration

	// Added holds every fact stored via Add.
	Added []memory.Entry

	// SearchCalls records every Search invocation in order.
	SearchCalls []SearchCall
}

// Add records the fact or returns AddErr.
func (m *MemoryStore) Add(_ context.Context, userID, text string) (*memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return nil, m.AddErr
	}
	e := memory.Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	m.Added = append(m.Added, e)
	return &e, nil
}

// Search records the call and returns SearchResults after an optional delay.
func (m *MemoryStore) Search(ctx context.Context, userID, query string, topK int) ([]memory.Entry, error) {
	m.mu.Lock()
	m.SearchCalls = append(m.SearchCalls, SearchCall{UserID: userID, Query: query, TopK: topK})
	delay := m.SearchDelay
	results := make([]memory.Entry, len(m.SearchResults))
	copy(results, m.SearchResults)
	err := m.SearchErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes the fact by ID if present.
func (m *MemoryStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.Added {
		if e.ID == id && e.UserID == userID {
			m.Added = append(m.Added[:i], m.Added[i+1:]...)
			return nil
		}
	}
	return nil
}

// QueryCall records one KnowledgeIndex.Query invocation.
type QueryCall struct {
	Query      string
	Namespaces []string
	TopK       int
}

// KnowledgeIndex is a mock implementation of [memory.KnowledgeIndex].
type KnowledgeIndex struct {
	mu sync.Mutex

	// QueryResults is returned by Query.
	QueryResults []memory.Snippet

	// QueryErr, if non-nil, is returned by Query.
	QueryErr error

	// QueryDelay artificially delays Query, for timeout tests.
	QueryDelay time.Duration

	// QueryCalls records every Query invocation in order.
	QueryCalls []QueryCall
}

// Query records the call and returns QueryResults after an optional delay.
func (k *KnowledgeIndex) Query(ctx context.Context, query string, namespaces []string, topK int) ([]memory.Snippet, error) {
	k.mu.Lock()
	ns := make([]string, len(namespaces))
	copy(ns, namespaces)
	k.QueryCalls = append(k.QueryCalls, QueryCall{Query: query, Namespaces: ns, TopK: topK})
	delay := k.QueryDelay
	results := make([]memory.Snippet, len(k.QueryResults))
	copy(results, k.QueryResults)
	err := k.QueryErr
	k.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Calls returns a copy of the recorded Query invocations.
func (k *KnowledgeIndex) Calls() []QueryCall {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]QueryCall, len(k.QueryCalls))
	copy(out, k.QueryCalls)
	return out
}
