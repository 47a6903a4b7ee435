package respond

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// defaultSynthConcurrency bounds how many synthesis calls run at once for a
// single response.
const defaultSynthConcurrency = 4

// ttsBreakerName is the circuit breaker guarding the synthesis collaborator.
const ttsBreakerName = "tts"

// SynthesisResult is the outcome of one dispatched sentence unit. Exactly one
// result is produced per dispatched unit, carrying either audio or an error.
type SynthesisResult struct {
	// Index is the sentence index the result belongs to.
	Index int

	// Text is the sentence that was synthesized.
	Text string

	// Audio is the encoded clip; nil when Err is set.
	Audio []byte

	// Format identifies the audio encoding.
	Format string

	// Duration is how long the synthesis call took.
	Duration time.Duration

	// Final marks the result for the last unit of the response.
	Final bool

	// Err is the per-unit failure, nil on success. A failed unit never
	// aborts its siblings.
	Err error
}

// DispatcherConfig wires a [Dispatcher].
type DispatcherConfig struct {
	// TTS is the synthesis collaborator. Nil runs the response text only:
	// every dispatched unit is dropped without a result.
	TTS tts.Provider

	// VoiceID is the voice used for every unit of the response.
	VoiceID string

	// LanguageCode optionally hints the synthesis language.
	LanguageCode string

	// Breakers guards the synthesis calls under the "tts" breaker. Optional;
	// nil calls directly.
	Breakers *resilience.Registry

	// Concurrency bounds parallel synthesis calls. Non-positive selects 4.
	Concurrency int64

	// Metrics records synthesis latency and failures. Optional.
	Metrics *observe.Metrics

	// AvatarID labels metric records.
	AvatarID string
}

// Dispatcher fans sentence units out to the synthesis collaborator. Each unit
// gets its own goroutine so a slow sentence never delays the ones behind it;
// a weighted semaphore bounds how many calls are in flight.
//
// Results surface on [Dispatcher.Results] as they complete, which may be out
// of index order. The consumer reorders by index and must drain the channel;
// [Dispatcher.Wait] joins all in-flight units and closes it.
type Dispatcher struct {
	cfg DispatcherConfig
	sem *semaphore.Weighted

	wg  sync.WaitGroup
	out chan SynthesisResult
}

// NewDispatcher creates a Dispatcher for one response.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSynthConcurrency
	}
	return &Dispatcher{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.Concurrency),
		out: make(chan SynthesisResult, 16),
	}
}

// Results is the fan-in channel of per-unit outcomes. Closed by [Dispatcher.Wait].
func (d *Dispatcher) Results() <-chan SynthesisResult {
	return d.out
}

// Dispatch starts synthesis for unit without waiting for earlier units.
// Units with no speakable content are skipped silently, as is everything
// when no synthesis provider is configured.
//
// ctx gates admission only: a unit still queued behind the semaphore when ctx
// is cancelled reports a per-unit error, but a synthesis call that already
// started runs to completion since the external call cannot be retracted.
func (d *Dispatcher) Dispatch(ctx context.Context, unit SentenceUnit) {
	if d.cfg.TTS == nil || strings.TrimSpace(unit.Text) == "" {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.out <- SynthesisResult{
				Index: unit.Index,
				Text:  unit.Text,
				Final: unit.Final,
				Err:   fmt.Errorf("synthesis dispatch: %w", err),
			}
			return
		}
		defer d.sem.Release(1)

		d.out <- d.synthesize(context.WithoutCancel(ctx), unit)
	}()
}

// Wait joins every dispatched unit and closes the results channel. No audio
// is silently dropped; the response is complete only after Wait returns.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	close(d.out)
}

func (d *Dispatcher) synthesize(ctx context.Context, unit SentenceUnit) SynthesisResult {
	req := tts.Request{
		Text:         strings.TrimSpace(unit.Text),
		VoiceID:      d.cfg.VoiceID,
		LanguageCode: d.cfg.LanguageCode,
	}

	var res *tts.Result
	call := func(callCtx context.Context) error {
		var err error
		res, err = d.cfg.TTS.Synthesize(callCtx, req)
		return err
	}

	start := time.Now()
	var err error
	if d.cfg.Breakers != nil {
		err = d.cfg.Breakers.Do(ctx, ttsBreakerName, call)
	} else {
		err = call(ctx)
	}

	if m := d.cfg.Metrics; m != nil {
		if err != nil {
			m.RecordSynthesisError(ctx, d.cfg.AvatarID)
		} else {
			m.TTSDuration.Record(ctx, time.Since(start).Seconds())
			m.RecordSentence(ctx, d.cfg.AvatarID)
		}
	}

	if err != nil {
		return SynthesisResult{
			Index: unit.Index,
			Text:  unit.Text,
			Final: unit.Final,
			Err:   fmt.Errorf("synthesize sentence %d: %w", unit.Index, err),
		}
	}
	return SynthesisResult{
		Index:    unit.Index,
		Text:     unit.Text,
		Audio:    res.Audio,
		Format:   res.Format,
		Duration: res.Duration,
		Final:    unit.Final,
	}
}
