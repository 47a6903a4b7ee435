// Package session enforces per-user session concurrency and avatar-switch
// cooldowns.
//
// The central type is [Manager], the sole authority on the live session count
// for a user. Capacity checks and registrations happen under one mutex hold,
// so the check-then-act pair is a single logical operation.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/observe"
)

// Rejection reasons carried in [Decision.Reason].
const (
	ReasonSessionLimit   = "session_limit_reached"
	ReasonSwitchCooldown = "avatar_switch_cooldown"
)

// Record is one live session.
type Record struct {
	// ID is the manager-assigned session identifier.
	ID string

	// UserID owns the session.
	UserID string

	// AvatarID is the persona selected for the session.
	AvatarID string

	// StartedAt is when the session was registered.
	StartedAt time.Time

	// LastActivity is advanced by activity pings; the idle sweep uses it.
	LastActivity time.Time

	// StreamToken optionally carries an externally-issued streaming token.
	StreamToken string
}

// Decision is the outcome of a capacity or cooldown check.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Reason is a machine-readable rejection reason, empty when Allowed.
	Reason string

	// CurrentCount is the user's live session count at decision time.
	CurrentCount int

	// RemainingCooldown is how long until an avatar switch is permitted
	// again. Only set for cooldown rejections.
	RemainingCooldown time.Duration
}

// MarshalJSON reports the remaining cooldown in whole milliseconds.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Allowed           bool   `json:"allowed"`
		Reason            string `json:"reason,omitempty"`
		CurrentCount      int    `json:"currentCount"`
		RemainingCooldown int64  `json:"remainingCooldownMs,omitempty"`
	}{
		Allowed:           d.Allowed,
		Reason:            d.Reason,
		CurrentCount:      d.CurrentCount,
		RemainingCooldown: d.RemainingCooldown.Milliseconds(),
	})
}

// Config holds tuning knobs for a [Manager].
type Config struct {
	// MaxSessionsPerUser caps live sessions per user. Default: 3.
	MaxSessionsPerUser int

	// AvatarSwitchCooldown is the minimum interval between switches to a
	// different avatar. Default: 10s.
	AvatarSwitchCooldown time.Duration

	// IdleTimeout is how long a session may go without activity before the
	// sweep ends it. Default: 30m.
	IdleTimeout time.Duration

	// Metrics feeds the live-session gauge. Optional.
	Metrics *observe.Metrics
}

// Manager tracks live sessions and avatar switches per user.
type Manager struct {
	maxPerUser     int
	switchCooldown time.Duration
	idleTimeout    time.Duration
	metrics        *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Record // by session ID
	// lastSwitch records, per user, the time of the last switch to a
	// different avatar and which avatar it was to.
	lastSwitch map[string]avatarSwitch

	// now is swappable for tests.
	now func() time.Time
}

type avatarSwitch struct {
	avatarID string
	at       time.Time
}

// NewManager creates a [Manager]. Zero-value config fields are replaced with
// defaults.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessionsPerUser <= 0 {
		cfg.MaxSessionsPerUser = 3
	}
	if cfg.AvatarSwitchCooldown <= 0 {
		cfg.AvatarSwitchCooldown = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		maxPerUser:     cfg.MaxSessionsPerUser,
		switchCooldown: cfg.AvatarSwitchCooldown,
		idleTimeout:    cfg.IdleTimeout,
		metrics:        cfg.Metrics,
		sessions:       make(map[string]*Record),
		lastSwitch:     make(map[string]avatarSwitch),
		now:            time.Now,
	}
}

// recordSessionDelta moves the live-session gauge, when metrics are wired.
func (m *Manager) recordSessionDelta(delta int64) {
	if m.metrics != nil && delta != 0 {
		m.metrics.AddActiveSessions(context.Background(), delta)
	}
}

// CanStartSession reports whether userID may open another session.
func (m *Manager) CanStartSession(userID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityLocked(userID)
}

// StartSession checks capacity and registers the session under a single lock
// hold. No I/O may ever be interposed between the check and the registration;
// the count is only trustworthy because both happen inside one critical
// section.
func (m *Manager) StartSession(userID, avatarID string) (*Record, Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	decision := m.capacityLocked(userID)
	if !decision.Allowed {
		return nil, decision
	}

	now := m.now()
	rec := &Record{
		ID:           uuid.NewString(),
		UserID:       userID,
		AvatarID:     avatarID,
		StartedAt:    now,
		LastActivity: now,
	}
	m.sessions[rec.ID] = rec
	decision.CurrentCount++
	m.recordSessionDelta(1)

	slog.Debug("session started",
		"session_id", rec.ID,
		"user_id", userID,
		"avatar_id", avatarID)

	out := *rec
	return &out, decision
}

// capacityLocked evaluates the session cap. Must be called with m.mu held.
func (m *Manager) capacityLocked(userID string) Decision {
	count := 0
	for _, rec := range m.sessions {
		if rec.UserID == userID {
			count++
		}
	}
	if count >= m.maxPerUser {
		return Decision{
			Allowed:      false,
			Reason:       ReasonSessionLimit,
			CurrentCount: count,
		}
	}
	return Decision{Allowed: true, CurrentCount: count}
}

// CanSwitchAvatar reports whether userID may switch to avatarID. The cooldown
// is measured from the last switch to a different avatar; switching back to
// the avatar currently in effect never trips it.
func (m *Manager) CanSwitchAvatar(userID, avatarID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLocked(userID, avatarID)
}

// SwitchAvatar checks the cooldown and, when allowed, records the switch and
// retargets the user's live sessions, all under one lock hold.
func (m *Manager) SwitchAvatar(userID, avatarID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	decision := m.switchLocked(userID, avatarID)
	if !decision.Allowed {
		return decision
	}

	prev, hasPrev := m.lastSwitch[userID]
	if !hasPrev || prev.avatarID != avatarID {
		m.lastSwitch[userID] = avatarSwitch{avatarID: avatarID, at: m.now()}
	}
	for _, rec := range m.sessions {
		if rec.UserID == userID {
			rec.AvatarID = avatarID
		}
	}
	return decision
}

// switchLocked evaluates the switch cooldown. Must be called with m.mu held.
func (m *Manager) switchLocked(userID, avatarID string) Decision {
	count := 0
	for _, rec := range m.sessions {
		if rec.UserID == userID {
			count++
		}
	}

	prev, ok := m.lastSwitch[userID]
	if !ok || prev.avatarID == avatarID {
		// First switch, or returning to the same avatar.
		return Decision{Allowed: true, CurrentCount: count}
	}

	elapsed := m.now().Sub(prev.at)
	if elapsed < m.switchCooldown {
		return Decision{
			Allowed:           false,
			Reason:            ReasonSwitchCooldown,
			CurrentCount:      count,
			RemainingCooldown: m.switchCooldown - elapsed,
		}
	}
	return Decision{Allowed: true, CurrentCount: count}
}

// EndSession removes the session by ID. Ending an unknown session is an
// error so callers can distinguish a stale handle.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session: unknown session %q", sessionID)
	}
	delete(m.sessions, sessionID)
	m.recordSessionDelta(-1)
	return nil
}

// EndAllUserSessions removes every session owned by userID and returns how
// many were ended.
func (m *Manager) EndAllUserSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ended := 0
	for id, rec := range m.sessions {
		if rec.UserID == userID {
			delete(m.sessions, id)
			ended++
		}
	}
	m.recordSessionDelta(int64(-ended))
	return ended
}

// UpdateActivityByUserID advances LastActivity on all of the user's sessions.
func (m *Manager) UpdateActivityByUserID(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, rec := range m.sessions {
		if rec.UserID == userID {
			rec.LastActivity = now
		}
	}
}

// SetStreamToken attaches an externally-issued streaming token to a session.
func (m *Manager) SetStreamToken(sessionID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session: unknown session %q", sessionID)
	}
	rec.StreamToken = token
	return nil
}

// Session returns a copy of the session record, if present.
func (m *Manager) Session(sessionID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ActiveCount returns the total number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep ends sessions idle longer than the configured timeout and returns
// how many were removed. Intended to run on a ticker.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idleTimeout)
	removed := 0
	for id, rec := range m.sessions {
		if rec.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	m.recordSessionDelta(int64(-removed))
	if removed > 0 {
		slog.Info("idle session sweep", "removed", removed)
	}
	return removed
}
