// Package videointent implements the per-user video confirmation state
// machine.
//
// A detected "make me a video" intent parks a [Pending] record for the user;
// the user's next message is interpreted against it: an affirmation triggers
// generation, a rejection clears it, anything else refines the stored topic.
// The orchestrator consults [Machine.HandleMessage] before normal response
// generation on every turn.
package videointent

import (
	"sync"
	"time"
)

// defaultPendingTTL is how long a pending confirmation stays live before
// access lazily evicts it.
const defaultPendingTTL = 10 * time.Minute

// Pending is one parked video request awaiting user confirmation.
type Pending struct {
	// Topic is the current understanding of what the video is about. Refined
	// while the user keeps adding detail.
	Topic string

	// OriginalText is the message that triggered intent detection.
	OriginalText string

	// AvatarID is the persona that will present the video.
	AvatarID string

	// Image optionally carries an attached reference image.
	Image []byte

	// CreatedAt is when the slot was (last) written.
	CreatedAt time.Time
}

// Store holds at most one [Pending] per user. Writes are last-write-wins;
// reads evict expired slots.
//
// All methods are safe for concurrent use.
type Store struct {
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]*Pending

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a Store. A non-positive ttl selects the 10 minute default.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &Store{
		ttl:     ttl,
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Put parks a pending confirmation for userID, replacing any existing one.
func (s *Store) Put(userID string, p Pending) {
	p.CreatedAt = s.now()

	s.mu.Lock()
	s.pending[userID] = &p
	s.mu.Unlock()
}

// Get returns the live pending confirmation for userID. An expired slot
// counts as absent and is evicted.
func (s *Store) Get(userID string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		return nil, false
	}
	if s.now().Sub(p.CreatedAt) > s.ttl {
		delete(s.pending, userID)
		return nil, false
	}
	out := *p
	return &out, true
}

// UpdateTopic rewrites the stored topic, keeping the slot's other fields and
// restarting its TTL. A missing slot is a no-op.
func (s *Store) UpdateTopic(userID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[userID]; ok {
		p.Topic = topic
		p.CreatedAt = s.now()
	}
}

// Clear drops the pending confirmation for userID, if any.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	delete(s.pending, userID)
	s.mu.Unlock()
}

// Len returns the number of parked slots, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
