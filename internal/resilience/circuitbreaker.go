// Package resilience provides the circuit breaker that guards every external
// service call.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open) driven by the failure percentage over a rolling
// window of call outcomes. [Registry] holds one named breaker per external
// service and backs the administrative status surface.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// in the open state and the reset timeout has not yet elapsed, or while a
// half-open trial call is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected
	// immediately with [ErrCircuitOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout.
	// Exactly one trial call is allowed through; success closes the breaker,
	// failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings holds tuning knobs for a [CircuitBreaker].
type Settings struct {
	// Name is the service label used in log messages and the admin surface.
	Name string

	// Timeout is the per-call deadline applied to every wrapped call. A call
	// that exceeds it counts as a failure. Default: 30s.
	Timeout time.Duration

	// ErrorThresholdPercentage is the failure percentage over the rolling
	// window at which the breaker opens. Default: 50.
	ErrorThresholdPercentage int

	// WindowSize is the number of most-recent call outcomes considered when
	// computing the failure percentage. Default: 20.
	WindowSize int

	// MinimumVolume is the number of outcomes that must be present in the
	// window before the threshold is evaluated, so a single early failure
	// cannot trip the breaker. Default: 5.
	MinimumVolume int

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial call. Default: 30s.
	ResetTimeout time.Duration

	// OnTransition, when set, is invoked on every state change. It runs
	// with the breaker lock held and must not call back into the breaker.
	OnTransition func(name string, from, to State)
}

// withDefaults fills zero-value fields with their defaults.
func (s Settings) withDefaults() Settings {
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ErrorThresholdPercentage <= 0 || s.ErrorThresholdPercentage > 100 {
		s.ErrorThresholdPercentage = 50
	}
	if s.WindowSize <= 0 {
		s.WindowSize = 20
	}
	if s.MinimumVolume <= 0 {
		s.MinimumVolume = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	return s
}

// Snapshot is a point-in-time view of a breaker for the admin surface.
type Snapshot struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	FailurePercentage float64   `json:"failurePercentage"`
	WindowCount       int       `json:"windowCount"`
	LastTransition    time.Time `json:"lastTransition"`
}

// CircuitBreaker implements a percentage-based circuit breaker over a rolling
// outcome window. It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	settings Settings

	mu             sync.Mutex
	state          State
	window         []bool // true = failure; capped at settings.WindowSize
	lastTransition time.Time
	openedAt       time.Time
	trialInFlight  bool
}

// New creates a [CircuitBreaker] with the supplied settings. Zero-value
// settings fields are replaced with defaults.
func New(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		settings:       settings.withDefaults(),
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Execute runs fn under the breaker's per-call timeout if the breaker allows
// it. In the open state it returns [ErrCircuitOpen] without calling fn. In
// the half-open state exactly one trial call is permitted; concurrent callers
// are rejected until the trial resolves.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.settings.ResetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transitionLocked(StateHalfOpen)
		cb.trialInFlight = true

	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
	}
	inTrial := cb.state == StateHalfOpen
	timeout := cb.settings.Timeout
	cb.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	err := fn(callCtx)
	cancel()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if inTrial {
		cb.trialInFlight = false
		if err != nil {
			cb.openLocked()
			return err
		}
		cb.window = cb.window[:0]
		cb.transitionLocked(StateClosed)
		return nil
	}

	// A state change may have happened while the call was in flight; outcomes
	// only feed the window while closed.
	if cb.state != StateClosed {
		return err
	}

	cb.record(err != nil)
	if cb.shouldOpenLocked() {
		cb.openLocked()
	}
	return err
}

// record appends one outcome to the rolling window. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) record(failed bool) {
	cb.window = append(cb.window, failed)
	if len(cb.window) > cb.settings.WindowSize {
		cb.window = cb.window[len(cb.window)-cb.settings.WindowSize:]
	}
}

// shouldOpenLocked reports whether the window has crossed the error
// threshold. Must be called with cb.mu held.
func (cb *CircuitBreaker) shouldOpenLocked() bool {
	if len(cb.window) < cb.settings.MinimumVolume {
		return false
	}
	return cb.failurePercentageLocked() >= float64(cb.settings.ErrorThresholdPercentage)
}

// failurePercentageLocked computes the failure rate of the current window.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) failurePercentageLocked() float64 {
	if len(cb.window) == 0 {
		return 0
	}
	failures := 0
	for _, failed := range cb.window {
		if failed {
			failures++
		}
	}
	return float64(failures) / float64(len(cb.window)) * 100
}

// openLocked trips the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) openLocked() {
	cb.openedAt = time.Now()
	cb.transitionLocked(StateOpen)
}

// transitionLocked moves the breaker to a new state with logging. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.lastTransition = time.Now()
	slog.Info("circuit breaker state change",
		"name", cb.settings.Name,
		"from", from.String(),
		"to", to.String(),
		"failure_percentage", cb.failurePercentageLocked())
	if cb.settings.OnTransition != nil {
		cb.settings.OnTransition(cb.settings.Name, from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open
// and the reset timeout has elapsed, the returned state is [StateHalfOpen]
// (the actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.settings.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot returns a point-in-time view of the breaker.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state
	if state == StateOpen && time.Since(cb.openedAt) >= cb.settings.ResetTimeout {
		state = StateHalfOpen
	}
	return Snapshot{
		Name:              cb.settings.Name,
		State:             state.String(),
		FailurePercentage: cb.failurePercentageLocked(),
		WindowCount:       len(cb.window),
		LastTransition:    cb.lastTransition,
	}
}

// Reset manually forces the breaker back to [StateClosed], clearing the
// outcome window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window = cb.window[:0]
	cb.trialInFlight = false
	cb.transitionLocked(StateClosed)
	slog.Info("circuit breaker manually reset", "name", cb.settings.Name)
}

// ─── Registry ───────────────────────────────────────────────────────────────

// Registry holds one named [CircuitBreaker] per external service.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults Settings
}

// NewRegistry creates a Registry. defaults seed the settings of breakers
// created on demand; Name is overridden per breaker.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.withDefaults(),
	}
}

// Configure registers a breaker for name with explicit settings, replacing
// any breaker previously created for that name.
func (r *Registry) Configure(name string, settings Settings) {
	settings.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = New(settings)
}

// Get returns the breaker for name, creating it with default settings on
// first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		settings := r.defaults
		settings.Name = name
		cb = New(settings)
		r.breakers[name] = cb
	}
	return cb
}

// Do executes fn under the named breaker.
func (r *Registry) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return r.Get(name).Execute(ctx, fn)
}

// Snapshots returns the state of every registered breaker, for the admin
// surface.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset force-closes the named breaker. It returns an error when no breaker
// with that name exists.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("resilience: no breaker named %q", name)
	}
	cb.Reset()
	return nil
}
