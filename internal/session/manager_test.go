package session

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxgate/voxgate/internal/observe"
)

func newTestManager(cfg Config) (*Manager, *time.Time) {
	m := NewManager(cfg)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestStartSessionEnforcesCap(t *testing.T) {
	m, _ := newTestManager(Config{MaxSessionsPerUser: 2})

	if _, d := m.StartSession("u1", "a1"); !d.Allowed {
		t.Fatalf("first session rejected: %+v", d)
	}
	if _, d := m.StartSession("u1", "a1"); !d.Allowed {
		t.Fatalf("second session rejected: %+v", d)
	}

	rec, d := m.StartSession("u1", "a1")
	if d.Allowed {
		t.Fatal("third session allowed over cap")
	}
	if rec != nil {
		t.Fatal("rejected start returned a record")
	}
	if d.Reason != ReasonSessionLimit {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonSessionLimit)
	}
	if d.CurrentCount != 2 {
		t.Errorf("currentCount = %d, want 2", d.CurrentCount)
	}

	// A different user is unaffected.
	if _, d := m.StartSession("u2", "a1"); !d.Allowed {
		t.Fatalf("other user rejected: %+v", d)
	}
}

func TestStartSessionConcurrent(t *testing.T) {
	m := NewManager(Config{MaxSessionsPerUser: 3})

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, d := m.StartSession("u1", "a1"); d.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for range allowed {
		granted++
	}
	if granted != 3 {
		t.Fatalf("granted %d sessions, want exactly 3", granted)
	}
	if m.ActiveCount() != 3 {
		t.Fatalf("active = %d, want 3", m.ActiveCount())
	}
}

func TestAvatarSwitchCooldown(t *testing.T) {
	m, now := newTestManager(Config{AvatarSwitchCooldown: 10 * time.Second})
	m.StartSession("u1", "a1")

	// First switch to a different avatar is free.
	if d := m.SwitchAvatar("u1", "a2"); !d.Allowed {
		t.Fatalf("first switch rejected: %+v", d)
	}

	// Immediately switching to yet another avatar trips the cooldown.
	d := m.SwitchAvatar("u1", "a3")
	if d.Allowed {
		t.Fatal("switch during cooldown allowed")
	}
	if d.Reason != ReasonSwitchCooldown {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonSwitchCooldown)
	}
	if d.RemainingCooldown <= 0 || d.RemainingCooldown > 10*time.Second {
		t.Errorf("remainingCooldown = %v", d.RemainingCooldown)
	}

	// Switching back to the same avatar never trips the cooldown.
	if d := m.SwitchAvatar("u1", "a2"); !d.Allowed {
		t.Fatalf("same-avatar switch rejected: %+v", d)
	}

	// After the cooldown elapses the switch goes through.
	*now = now.Add(11 * time.Second)
	if d := m.SwitchAvatar("u1", "a3"); !d.Allowed {
		t.Fatalf("post-cooldown switch rejected: %+v", d)
	}
}

func TestSwitchAvatarRetargetsSessions(t *testing.T) {
	m, _ := newTestManager(Config{})
	rec, _ := m.StartSession("u1", "a1")

	if d := m.SwitchAvatar("u1", "a2"); !d.Allowed {
		t.Fatalf("switch rejected: %+v", d)
	}
	got, ok := m.Session(rec.ID)
	if !ok {
		t.Fatal("session disappeared")
	}
	if got.AvatarID != "a2" {
		t.Errorf("avatar = %q, want a2", got.AvatarID)
	}
}

func TestEndSession(t *testing.T) {
	m, _ := newTestManager(Config{})
	rec, _ := m.StartSession("u1", "a1")

	if err := m.EndSession(rec.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := m.EndSession(rec.ID); err == nil {
		t.Fatal("expected error ending unknown session")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("active = %d, want 0", m.ActiveCount())
	}
}

func TestEndAllUserSessions(t *testing.T) {
	m, _ := newTestManager(Config{})
	m.StartSession("u1", "a1")
	m.StartSession("u1", "a2")
	m.StartSession("u2", "a1")

	if ended := m.EndAllUserSessions("u1"); ended != 2 {
		t.Fatalf("ended = %d, want 2", ended)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1", m.ActiveCount())
	}
}

func TestSweepEndsIdleSessions(t *testing.T) {
	m, now := newTestManager(Config{IdleTimeout: time.Minute})
	stale, _ := m.StartSession("u1", "a1")
	fresh, _ := m.StartSession("u2", "a1")

	*now = now.Add(2 * time.Minute)
	m.UpdateActivityByUserID("u2")

	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := m.Session(stale.ID); ok {
		t.Error("stale session survived sweep")
	}
	if _, ok := m.Session(fresh.ID); !ok {
		t.Error("fresh session swept")
	}
}

func TestLiveSessionGaugeTracksLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m, now := newTestManager(Config{IdleTimeout: time.Minute, Metrics: metrics})

	gauge := func() int64 {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				if met.Name != "voxgate.active_sessions" {
					continue
				}
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) == 0 {
					t.Fatal("active_sessions has no sum data points")
				}
				return sum.DataPoints[0].Value
			}
		}
		return 0
	}

	rec, _ := m.StartSession("u1", "a1")
	m.StartSession("u1", "a2")
	m.StartSession("u2", "a1")
	if got := gauge(); got != 3 {
		t.Fatalf("gauge after starts = %d, want 3", got)
	}

	if err := m.EndSession(rec.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got := gauge(); got != 2 {
		t.Fatalf("gauge after end = %d, want 2", got)
	}

	if ended := m.EndAllUserSessions("u1"); ended != 1 {
		t.Fatalf("ended = %d, want 1", ended)
	}
	if got := gauge(); got != 1 {
		t.Fatalf("gauge after bulk end = %d, want 1", got)
	}

	*now = now.Add(2 * time.Minute)
	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := gauge(); got != 0 {
		t.Fatalf("gauge after sweep = %d, want 0", got)
	}
}

func TestSetStreamToken(t *testing.T) {
	m, _ := newTestManager(Config{})
	rec, _ := m.StartSession("u1", "a1")

	if err := m.SetStreamToken(rec.ID, "tok-1"); err != nil {
		t.Fatalf("SetStreamToken: %v", err)
	}
	got, _ := m.Session(rec.ID)
	if got.StreamToken != "tok-1" {
		t.Errorf("token = %q, want tok-1", got.StreamToken)
	}
	if err := m.SetStreamToken("nope", "tok"); err == nil {
		t.Error("expected error for unknown session")
	}
}
