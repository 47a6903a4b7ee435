package turncache

import (
	"testing"
	"time"
)

func TestCacheMissOnEmpty(t *testing.T) {
	c := NewCache(0)
	if _, ok := c.Get(Key{UserID: "u1", AvatarID: "a1"}); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(time.Minute)
	key := Key{UserID: "u1", AvatarID: "a1"}

	c.Put(key, &TurnContext{Knowledge: "k", Memory: "m", LastQuery: "q"})

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Knowledge != "k" || got.Memory != "m" || got.LastQuery != "q" {
		t.Errorf("entry = %+v", got)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt not defaulted")
	}

	// A different avatar for the same user is a separate slot.
	if _, ok := c.Get(Key{UserID: "u1", AvatarID: "a2"}); ok {
		t.Error("unexpected hit for different avatar")
	}
}

func TestCacheReplaceOnWrite(t *testing.T) {
	c := NewCache(time.Minute)
	key := Key{UserID: "u1", AvatarID: "a1"}

	c.Put(key, &TurnContext{LastQuery: "first"})
	c.Put(key, &TurnContext{LastQuery: "second"})

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.LastQuery != "second" {
		t.Errorf("LastQuery = %q, want second", got.LastQuery)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestCacheExpiryIsMissAndEvicts(t *testing.T) {
	c := NewCache(10 * time.Minute)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := Key{UserID: "u1", AvatarID: "a1"}
	c.Put(key, &TurnContext{LastQuery: "q"})

	now = now.Add(11 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after lazy eviction", c.Len())
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c := NewCache(time.Minute)
	key := Key{UserID: "u1", AvatarID: "a1"}
	c.Put(key, &TurnContext{Knowledge: "original"})

	got, _ := c.Get(key)
	got.Knowledge = "mutated"

	again, _ := c.Get(key)
	if again.Knowledge != "original" {
		t.Errorf("stored entry mutated through returned copy")
	}
}
