package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/memory"
)

func TestHistoryStoreRecencyWindow(t *testing.T) {
	s := NewHistoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.AppendTurn(ctx, memory.Turn{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			AvatarID:  "ava",
			Role:      memory.RoleUser,
			Text:      "turn",
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "u1", "ava", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	if turns[0].ID != "c" || turns[2].ID != "e" {
		t.Errorf("window = %q..%q, want c..e", turns[0].ID, turns[2].ID)
	}

	other, err := s.RecentTurns(ctx, "u2", "ava", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("foreign user turns = %d, want 0", len(other))
	}
}

func TestMemoryStoreSearchRanksByOverlap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, text := range []string{
		"prefers magnesium supplements before sleep",
		"allergic to peanuts",
		"sleep schedule is irregular",
	} {
		if _, err := s.Add(ctx, "u1", text); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	results, err := s.Search(ctx, "u1", "magnesium sleep", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if got := results[0].Text; got != "prefers magnesium supplements before sleep" {
		t.Errorf("top result = %q", got)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry, err := s.Add(ctx, "u1", "fact")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(ctx, "u1", entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "u1", "missing"); err != nil {
		t.Errorf("deleting a missing ID should not error, got %v", err)
	}

	results, err := s.Search(ctx, "u1", "fact", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results after delete = %d", len(results))
	}
}

func TestKnowledgeIndexNamespaceScoping(t *testing.T) {
	idx := NewKnowledgeIndex(
		memory.Snippet{ID: "1", Namespace: "health", Content: "magnesium supports sleep"},
		memory.Snippet{ID: "2", Namespace: "finance", Content: "sleep on big purchases"},
	)
	ctx := context.Background()

	results, err := idx.Query(ctx, "sleep", []string{"health"}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Errorf("results = %+v", results)
	}

	none, err := idx.Query(ctx, "sleep", nil, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty namespaces should match nothing, got %d", len(none))
	}
}
