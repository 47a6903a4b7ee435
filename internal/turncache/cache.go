// Package turncache implements the turn-ahead context cache.
//
// The cache stores, per (user, avatar) pair, the retrieval context computed
// during the previous conversation turn. The orchestrator reads it at the
// start of the next turn instead of querying the retrieval sources
// synchronously, hiding retrieval latency behind the user's think time at the
// cost of one turn of staleness. [Fetcher] computes entries; [Cache] stores
// them.
//
// All types are safe for concurrent use.
package turncache

import (
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/memory"
)

// defaultTTL is how long a cached entry stays usable. Entries older than
// this are treated as a miss and lazily evicted on access.
const defaultTTL = 10 * time.Minute

// Key identifies one conversation's cache slot.
type Key struct {
	UserID   string
	AvatarID string
}

// TurnContext is the retrieval context assembled for one turn.
type TurnContext struct {
	// Knowledge is the formatted knowledge-base context.
	Knowledge string

	// Memory is the formatted long-term memory context.
	Memory string

	// History is the recent conversation, oldest first.
	History []memory.Turn

	// WebResults is the formatted live search context, possibly empty.
	WebResults string

	// LastQuery is the user query the entry was computed for.
	LastQuery string

	// FetchedAt is when the entry was assembled.
	FetchedAt time.Time
}

// Cache is the in-process store of [TurnContext] entries. At most one live
// entry exists per key; writes replace whole entries atomically.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[Key]*TurnContext

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates a Cache. A non-positive ttl selects the 10 minute default.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[Key]*TurnContext),
		now:     time.Now,
	}
}

// Get returns the cached context for key, or false on a miss. An entry past
// its TTL counts as a miss and is evicted.
func (c *Cache) Get(key Key) (*TurnContext, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(entry.FetchedAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a fresh entry may have landed.
		if cur, ok := c.entries[key]; ok && cur == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	out := *entry
	return &out, true
}

// Put stores a fully assembled entry, replacing any existing one for the key
// in a single step. Readers holding a previous entry are unaffected.
func (c *Cache) Put(key Key, entry *TurnContext) {
	if entry == nil {
		return
	}
	stored := *entry
	if stored.FetchedAt.IsZero() {
		stored.FetchedAt = c.now()
	}

	c.mu.Lock()
	c.entries[key] = &stored
	c.mu.Unlock()
}

// Invalidate drops the entry for key, if present.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
