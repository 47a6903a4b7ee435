package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewDefaults(t *testing.T) {
	cb := New(Settings{Name: "test"})
	if cb.settings.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cb.settings.Timeout)
	}
	if cb.settings.ErrorThresholdPercentage != 50 {
		t.Errorf("ErrorThresholdPercentage = %d, want 50", cb.settings.ErrorThresholdPercentage)
	}
	if cb.settings.WindowSize != 20 {
		t.Errorf("WindowSize = %d, want 20", cb.settings.WindowSize)
	}
	if cb.settings.MinimumVolume != 5 {
		t.Errorf("MinimumVolume = %d, want 5", cb.settings.MinimumVolume)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestClosedAllowsCalls(t *testing.T) {
	cb := New(Settings{Name: "test"})
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestOpensAtThresholdPercentage(t *testing.T) {
	cb := New(Settings{
		Name:                     "tts",
		ErrorThresholdPercentage: 50,
		WindowSize:               20,
		MinimumVolume:            5,
		ResetTimeout:             time.Hour, // long timeout so it stays open
	})

	// 3 successes then failures until the window crosses 50%.
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return nil })
	}
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// The 9th call must be rejected locally without a call attempt.
	attempted := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		attempted = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if attempted {
		t.Fatal("wrapped fn was called while the breaker was open")
	}
}

func TestMinimumVolumeGuards(t *testing.T) {
	cb := New(Settings{
		Name:                     "test",
		ErrorThresholdPercentage: 50,
		MinimumVolume:            5,
	})

	// 4 failures is 100% but below minimum volume, must stay closed.
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed below minimum volume", cb.State())
	}

	// The 5th failure reaches the volume and trips it.
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open at minimum volume", cb.State())
	}
}

func TestOnTransitionCallback(t *testing.T) {
	type transition struct {
		name     string
		from, to State
	}
	var seen []transition
	cb := New(Settings{
		Name:                     "llm",
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             time.Hour,
		OnTransition: func(name string, from, to State) {
			seen = append(seen, transition{name: name, from: from, to: to})
		},
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	}
	if len(seen) != 1 || seen[0] != (transition{name: "llm", from: StateClosed, to: StateOpen}) {
		t.Fatalf("transitions after trip = %+v", seen)
	}

	cb.Reset()
	if len(seen) != 2 || seen[1] != (transition{name: "llm", from: StateOpen, to: StateClosed}) {
		t.Fatalf("transitions after reset = %+v", seen)
	}
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	cb := New(Settings{
		Name:                     "test",
		Timeout:                  10 * time.Millisecond,
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             time.Hour,
	})

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_ = cb.Execute(context.Background(), slow)
	_ = cb.Execute(context.Background(), slow)

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after timeouts", cb.State())
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	cb := New(Settings{
		Name:                     "test",
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             20 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	// Hold a trial call open and verify a concurrent caller is rejected.
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent half-open call err = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trial", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Settings{
		Name:                     "test",
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	time.Sleep(20 * time.Millisecond)

	// Failed trial call re-opens.
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after failed trial", err)
	}
}

func TestManualReset(t *testing.T) {
	cb := New(Settings{
		Name:                     "test",
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             time.Hour,
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("call after reset err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(Settings{
		ErrorThresholdPercentage: 50,
		MinimumVolume:            2,
		ResetTimeout:             time.Hour,
	})
	reg.Configure("llm", Settings{ErrorThresholdPercentage: 90})

	if err := reg.Do(context.Background(), "llm", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do err = %v", err)
	}

	// On-demand breaker with defaults.
	_ = reg.Do(context.Background(), "tts", func(context.Context) error { return errTest })
	_ = reg.Do(context.Background(), "tts", func(context.Context) error { return errTest })

	snaps := reg.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps[0].Name != "llm" || snaps[1].Name != "tts" {
		t.Errorf("snapshot order = %q, %q", snaps[0].Name, snaps[1].Name)
	}
	if snaps[1].State != "open" {
		t.Errorf("tts state = %q, want open", snaps[1].State)
	}

	if err := reg.Reset("tts"); err != nil {
		t.Fatalf("Reset err = %v", err)
	}
	if reg.Get("tts").State() != StateClosed {
		t.Error("tts breaker not closed after reset")
	}
	if err := reg.Reset("nope"); err == nil {
		t.Error("expected error resetting unknown breaker")
	}
}
