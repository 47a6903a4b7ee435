package turncache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/memory"
	memorymock "github.com/voxgate/voxgate/pkg/memory/mock"
	"github.com/voxgate/voxgate/pkg/provider/search"
	searchmock "github.com/voxgate/voxgate/pkg/provider/search/mock"
)

func TestFetchAssemblesAllSources(t *testing.T) {
	memories := &memorymock.MemoryStore{
		SearchResults: []memory.Entry{
			{Text: "likes green tea"},
			{Text: "lives in Oslo"},
		},
	}
	knowledge := &memorymock.KnowledgeIndex{
		QueryResults: []memory.Snippet{
			{Content: "Sleep has several stages."},
		},
	}
	history := &memorymock.HistoryStore{}
	_ = history.AppendTurn(context.Background(), memory.Turn{
		ID: "t1", UserID: "u1", AvatarID: "a1", Role: memory.RoleUser, Text: "hello",
	})

	f := NewFetcher(memories, knowledge, history)
	entry, err := f.Fetch(context.Background(), Key{UserID: "u1", AvatarID: "a1"}, "tell me about sleep", []string{"health"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if !strings.Contains(entry.Memory, "green tea") || !strings.Contains(entry.Memory, "Oslo") {
		t.Errorf("memory context = %q", entry.Memory)
	}
	if !strings.Contains(entry.Knowledge, "stages") {
		t.Errorf("knowledge context = %q", entry.Knowledge)
	}
	if len(entry.History) != 1 || entry.History[0].Text != "hello" {
		t.Errorf("history = %+v", entry.History)
	}
	if entry.LastQuery != "tell me about sleep" {
		t.Errorf("lastQuery = %q", entry.LastQuery)
	}
	if entry.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}

	calls := knowledge.Calls()
	if len(calls) != 1 || calls[0].Namespaces[0] != "health" {
		t.Errorf("knowledge calls = %+v", calls)
	}
}

func TestFetchSlowSubTaskContributesEmpty(t *testing.T) {
	memories := &memorymock.MemoryStore{
		SearchResults: []memory.Entry{{Text: "should not appear"}},
		SearchDelay:   200 * time.Millisecond,
	}
	knowledge := &memorymock.KnowledgeIndex{
		QueryResults: []memory.Snippet{{Content: "fast source"}},
	}
	history := &memorymock.HistoryStore{}

	f := NewFetcher(memories, knowledge, history, WithSubTaskTimeout(20*time.Millisecond))
	entry, err := f.Fetch(context.Background(), Key{UserID: "u1", AvatarID: "a1"}, "q", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if entry.Memory != "" {
		t.Errorf("memory context = %q, want empty after sub-task timeout", entry.Memory)
	}
	if !strings.Contains(entry.Knowledge, "fast source") {
		t.Errorf("knowledge context = %q, fast sibling should survive", entry.Knowledge)
	}
}

func TestFetchRealErrorPropagates(t *testing.T) {
	memories := &memorymock.MemoryStore{SearchErr: errors.New("db down")}
	f := NewFetcher(memories, &memorymock.KnowledgeIndex{}, &memorymock.HistoryStore{})

	_, err := f.Fetch(context.Background(), Key{UserID: "u1", AvatarID: "a1"}, "q", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "turn cache") {
		t.Errorf("err = %v, want turn cache prefix", err)
	}
}

func TestFetchOptionalWebSearch(t *testing.T) {
	web := &searchmock.Provider{
		Results: []search.Result{
			{Title: "Magnesium", Content: "Magnesium supports sleep."},
		},
	}

	f := NewFetcher(&memorymock.MemoryStore{}, &memorymock.KnowledgeIndex{}, &memorymock.HistoryStore{},
		WithWebSearch(web))
	entry, err := f.Fetch(context.Background(), Key{UserID: "u1", AvatarID: "a1"}, "magnesium", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(entry.WebResults, "Magnesium supports sleep.") {
		t.Errorf("web results = %q", entry.WebResults)
	}
	if len(web.Calls()) != 1 {
		t.Errorf("web calls = %d, want 1", len(web.Calls()))
	}
}

func TestRefresherStoresResult(t *testing.T) {
	cache := NewCache(time.Minute)
	knowledge := &memorymock.KnowledgeIndex{
		QueryResults: []memory.Snippet{{Content: "snippet"}},
	}
	f := NewFetcher(&memorymock.MemoryStore{}, knowledge, &memorymock.HistoryStore{})
	r := NewRefresher(cache, f)

	key := Key{UserID: "u1", AvatarID: "a1"}
	if err := r.Refresh(context.Background(), key, "q", []string{"ns"}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	entry, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected cached entry after refresh")
	}
	if !strings.Contains(entry.Knowledge, "snippet") {
		t.Errorf("knowledge = %q", entry.Knowledge)
	}
}

func TestRefreshAsyncSurvivesCancelledRequest(t *testing.T) {
	cache := NewCache(time.Minute)
	f := NewFetcher(&memorymock.MemoryStore{}, &memorymock.KnowledgeIndex{}, &memorymock.HistoryStore{})
	r := NewRefresher(cache, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request context already gone

	key := Key{UserID: "u1", AvatarID: "a1"}
	r.RefreshAsync(ctx, key, "q", nil)

	deadline := time.After(time.Second)
	for {
		if _, ok := cache.Get(key); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("refresh did not complete after request cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
